package call

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arch7tect/sip-gateway/internal/backend"
	"github.com/arch7tect/sip-gateway/internal/dynamiccorrection"
	"github.com/arch7tect/sip-gateway/internal/tts"
	"github.com/arch7tect/sip-gateway/internal/vadproc"
)

// fakeStack is a minimal sipcap.Stack test double.
type fakeStack struct {
	mu         sync.Mutex
	answered   map[string]int
	hungUp     map[string]int
	refers     map[string]string
	dtmf       map[string]string
	nextCallID string
	lastStatus int
}

func newFakeStack() *fakeStack {
	return &fakeStack{
		answered: map[string]int{},
		hungUp:   map[string]int{},
		refers:   map[string]string{},
		dtmf:     map[string]string{},
	}
}

func (s *fakeStack) Answer(callID string, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered[callID] = statusCode
	return nil
}
func (s *fakeStack) Hangup(callID string, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hungUp[callID] = statusCode
	return nil
}
func (s *fakeStack) MakeCall(toURI string) (string, error) {
	if s.nextCallID == "" {
		return "call-out-1", nil
	}
	return s.nextCallID, nil
}
func (s *fakeStack) SendREFER(callID string, toURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refers[callID] = toURI
	return nil
}
func (s *fakeStack) SendDTMF(callID string, digits string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dtmf[callID] = digits
	return nil
}
func (s *fakeStack) LastStatusCode(callID string) int {
	return s.lastStatus
}

func (s *fakeStack) hangupCount(callID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.hungUp[callID]
	return n, ok
}

// fakeBackend is a minimal BackendAPI test double.
type fakeBackend struct {
	mu             sync.Mutex
	session        backend.Session
	createErr      error
	startCalls     []string
	commitResult   backend.CommitResult
	commitErr      error
	rollbackCalls  int
	deletedStatus  string
	transcribeText string
}

func (b *fakeBackend) CreateSession(ctx context.Context, req backend.SessionRequest) (backend.Session, error) {
	if b.createErr != nil {
		return backend.Session{}, b.createErr
	}
	return b.session, nil
}
func (b *fakeBackend) Start(ctx context.Context, sessionID, message string, kwargs map[string]any) (json.RawMessage, error) {
	b.mu.Lock()
	b.startCalls = append(b.startCalls, message)
	b.mu.Unlock()
	return json.RawMessage(`{}`), nil
}
func (b *fakeBackend) Commit(ctx context.Context, sessionID string) (backend.CommitResult, error) {
	return b.commitResult, b.commitErr
}
func (b *fakeBackend) Rollback(ctx context.Context, sessionID string) (json.RawMessage, error) {
	b.mu.Lock()
	b.rollbackCalls++
	b.mu.Unlock()
	return json.RawMessage(`{}`), nil
}
func (b *fakeBackend) DeleteSession(ctx context.Context, sessionID, status string) error {
	b.mu.Lock()
	b.deletedStatus = status
	b.mu.Unlock()
	return nil
}
func (b *fakeBackend) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transcribeText, nil
}

func (b *fakeBackend) setTranscribeText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcribeText = text
}

func (b *fakeBackend) startCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.startCalls)
}

func (b *fakeBackend) rollbacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rollbackCalls
}

// constModel always returns a fixed probability, used only to satisfy
// Controller's constructor; these tests drive VAD events directly rather
// than through real audio, so the model is never actually invoked.
type constModel struct{ p float32 }

func (m constModel) SamplingRate() int          { return 16000 }
func (m constModel) InitializeState() []float32 { return nil }
func (m constModel) SpeechProbability(window, state []float32) (float32, []float32) {
	return m.p, state
}

// fakeSink is a minimal player.Sink test double.
type fakeSink struct {
	mu      sync.Mutex
	playing string
}

func (s *fakeSink) Play(path string, onDone func()) error {
	s.mu.Lock()
	s.playing = path
	s.mu.Unlock()
	return nil
}
func (s *fakeSink) Stop() {
	s.mu.Lock()
	s.playing = ""
	s.mu.Unlock()
}

// noopSynth never touches disk or a network; enough to exercise the
// controller's speculation/commit flow without a real TTS backend.
type noopSynth struct{}

func (noopSynth) Synthesize(ctx context.Context, text string, canceled *atomic.Bool) (string, error) {
	return "", nil
}

func newTestController(fb *fakeBackend, fs *fakeStack) *Controller {
	cfg := Config{
		VAD:               vadproc.DefaultConfig(),
		Correction:        dynamiccorrection.DefaultConfig(),
		AudioPortCapacity: 8,
		TTSMaxInflight:    2,
		Streaming:         true,
	}
	return NewController(cfg, fs, fb, constModel{p: 0.9}, func(callID string) Sink {
		return &fakeSink{}
	}, func(sessionID string) tts.Synthesizer {
		return noopSynth{}
	}, nil)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAcceptCreatesSessionAnswersAndEnqueuesGreeting(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1", Greeting: "Hello", HasGreeting: true}}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	sessionID, err := c.Accept(context.Background(), "call1", "sip:caller@example.com")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if sessionID != "sess1" {
		t.Fatalf("sessionID = %q", sessionID)
	}
	if status, ok := fs.answered["call1"]; !ok || status != 200 {
		t.Fatalf("call not answered: %+v", fs.answered)
	}

	call, ok := c.byID("call1")
	if !ok {
		t.Fatal("call not registered")
	}
	waitUntil(t, func() bool { return call.Player.HasQueue() || call.Player.IsActive() })
}

func TestSpeechStartRollsBackLiveSpeculation(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1"}}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)
	call.SetSpecActive(true)

	c.onSpeechStart(call)

	if call.State() != StateWaitForUser {
		t.Fatalf("state = %v, want WaitForUser", call.State())
	}
	waitUntil(t, func() bool { return fb.rollbacks() == 1 })
	waitUntil(t, func() bool { return !call.SpecActive() })
}

func TestShortPauseSendsStartOnceForRepeatedTranscript(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1"}, transcribeText: "book a table"}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)

	samples := make([]float32, 512)
	c.onShortPause(call, samples)
	waitUntil(t, func() bool { return fb.startCount() == 1 })
	waitUntil(t, func() bool { return call.State() == StateSpeculativeGenerate })

	// A second short-pause with identical transcript, after resetting the
	// per-segment guard the way speech-start would, must not re-issue start
	// because the normalized text matches lastUnstableText.
	call.SetShortPauseHandled(false)
	c.onShortPause(call, samples)
	time.Sleep(20 * time.Millisecond)
	if fb.startCount() != 1 {
		t.Fatalf("startCount = %d, want 1 (duplicate transcript should be skipped)", fb.startCount())
	}
}

func TestShortPauseTreatsTranscriptsDifferingOnlyByEmojiAsDuplicate(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1"}, transcribeText: "book a table \U0001F600"}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)

	samples := make([]float32, 512)
	c.onShortPause(call, samples)
	waitUntil(t, func() bool { return fb.startCount() == 1 })
	waitUntil(t, func() bool { return call.State() == StateSpeculativeGenerate })

	// Same words, no emoji this time: after emoji removal and normalization
	// the transcript matches lastUnstableText, so no duplicate start fires.
	fb.setTranscribeText("book a table")
	call.SetShortPauseHandled(false)
	c.onShortPause(call, samples)
	time.Sleep(20 * time.Millisecond)
	if fb.startCount() != 1 {
		t.Fatalf("startCount = %d, want 1 (emoji-only difference should be treated as duplicate)", fb.startCount())
	}
}

func TestLongPauseCommitsAndTransitionsToWaitForUser(t *testing.T) {
	fb := &fakeBackend{
		session:      backend.Session{SessionID: "sess1"},
		transcribeText: "book a table for two",
		commitResult: backend.CommitResult{Response: "Sure, when?", HasResponse: true},
	}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)

	samples := make([]float32, 512)
	c.onLongPause(call, samples)

	waitUntil(t, func() bool {
		return fb.startCount() == 1 && call.State() == StateWaitForUser && !call.CommitInFlight()
	})
	if fb.startCount() != 1 {
		t.Fatalf("startCount = %d, want 1", fb.startCount())
	}
}

func TestLongPauseSkipsStartWhenSpeculationAlreadyActive(t *testing.T) {
	fb := &fakeBackend{
		session:      backend.Session{SessionID: "sess1"},
		commitResult: backend.CommitResult{Response: "ok", HasResponse: true},
	}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)
	call.SetSpecActive(true)

	c.onLongPause(call, make([]float32, 512))
	waitUntil(t, func() bool { return !call.SpecActive() && call.State() == StateWaitForUser })
	if fb.startCount() != 0 {
		t.Fatalf("startCount = %d, want 0 (speculation was already active)", fb.startCount())
	}
}

func TestUserSilenceTimeoutFinishesAndDrainsBeforeHangup(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1"}}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)
	call.Player.Enqueue("/tmp/reply.wav", true)
	call.Player.Play()

	c.onUserSilenceTimeout(call)

	if !call.Finished() {
		t.Fatal("expected call.Finished() true")
	}
	if _, ok := fs.hangupCount("call1"); ok {
		t.Fatal("expected hangup to be deferred while player is active")
	}
}

func TestTransferTargetIsIdempotentAfterStart(t *testing.T) {
	fb := &fakeBackend{session: backend.Session{SessionID: "sess1"}}
	fs := newFakeStack()
	c := newTestController(fb, fs)

	call := c.newCall("call1", "sess1", "sip:caller@example.com")
	c.register(call)

	call.SetTransferTarget("sip:first@example.com", time.Second)
	call.SetTransferTarget("sip:second@example.com", 2*time.Second)

	target, _, ok := call.ConsumeTransferTarget()
	if !ok || target != "sip:second@example.com" {
		t.Fatalf("target = %q, ok = %v, want second target to override first", target, ok)
	}

	// After a transfer has started, further overrides are no-ops.
	call.SetTransferTarget("sip:third@example.com", time.Second)
	if _, _, ok := call.ConsumeTransferTarget(); ok {
		t.Fatal("expected no-op after transfer already started")
	}
}

func TestDeriveCloseStatus(t *testing.T) {
	cases := map[int]string{
		0:   "network_error",
		486: "busy",
		603: "declined",
		487: "canceled",
		480: "noanswer",
		404: "not_found",
		200: "completed",
		999: "unknown",
	}
	for code, want := range cases {
		if got := deriveCloseStatus(code); got != want {
			t.Errorf("deriveCloseStatus(%d) = %q, want %q", code, got, want)
		}
	}
}
