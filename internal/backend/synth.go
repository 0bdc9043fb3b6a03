package backend

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
	"github.com/arch7tect/sip-gateway/internal/tts"
)

// SynthesizerAdapter turns a Client's HTTP synthesize call into the
// tts.Synthesizer interface the TTS pipeline drives, applying the 364-byte
// output sanity check (an empty-WAV-header response has no audio) before
// the caller ever sees a path.
type SynthesizerAdapter struct {
	Client    *Client
	SessionID string
	TempDir   string
}

func (a *SynthesizerAdapter) Synthesize(ctx context.Context, text string, canceled *atomic.Bool) (string, error) {
	if canceled.Load() {
		return "", nil
	}
	data, err := a.Client.Synthesize(ctx, a.SessionID, text, "wav")
	if err != nil {
		return "", err
	}
	if canceled.Load() {
		return "", nil
	}
	if len(data) < tts.MinSynthesizedBytes {
		metrics.TTSUndersized.Inc()
		logging.Warn("synthesized audio undersized, dropping", logging.Field("session_id", a.SessionID), logging.Field("bytes", len(data)))
		return "", fmt.Errorf("synthesized audio too small (%d bytes)", len(data))
	}

	dir := a.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := dir + "/tts-" + uuid.NewString() + ".wav"
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
