package vadproc

import (
	"testing"

	"github.com/arch7tect/sip-gateway/internal/vad"
	"github.com/stretchr/testify/require"
)

// constModel returns a fixed probability for every window that carries any
// signal and 0 for an all-zero window, letting tests drive the processor
// deterministically without a real inference engine.
type constModel struct {
	prob float32
	rate int
}

func (m constModel) SamplingRate() int              { return m.rate }
func (m constModel) InitializeState() []float32     { return nil }
func (m constModel) SpeechProbability(w []float32, s []float32) (float32, []float32) {
	for _, v := range w {
		if v != 0 {
			return m.prob, s
		}
	}
	return 0, s
}

func speechWindow() []float32 {
	w := make([]float32, vad.WindowSamples)
	for i := range w {
		w[i] = 0.5
	}
	return w
}

func silenceWindow() []float32 {
	return make([]float32, vad.WindowSamples)
}

func feedWindows(p *Processor, w []float32, n int) []Event {
	var all []Event
	for i := 0; i < n; i++ {
		all = append(all, p.ProcessSamples(w)...)
	}
	return all
}

func countType(events []Event, t EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestProcessor(prob float32) *Processor {
	cfg := DefaultConfig()
	cfg.SpeechProbWindow = 1 // isolate smoothing for deterministic thresholds
	return New(cfg, constModel{prob: prob, rate: cfg.SampleRate}, nil)
}

func TestSpeechStartFiresOnceThresholdReached(t *testing.T) {
	p := newTestProcessor(0.9)
	th := p.thresholds
	windowsNeeded := int(th.MinSpeechSamples/vad.WindowSamples) + 1

	events := feedWindows(p, speechWindow(), windowsNeeded)
	require.Equal(t, 1, countType(events, EventSpeechStart))
}

func TestShortAndLongPauseThresholds(t *testing.T) {
	p := newTestProcessor(0.9)
	th := p.thresholds
	windowsNeeded := int(th.MinSpeechSamples/vad.WindowSamples) + 1
	feedWindows(p, speechWindow(), windowsNeeded)

	// Feed silence up to just before short_pause_samples: no short-pause yet.
	windowsForShort := int(th.ShortPauseSamples / vad.WindowSamples)
	var all []Event
	for i := 0; i < windowsForShort; i++ {
		all = append(all, p.ProcessSamples(silenceWindow())...)
	}
	require.Equal(t, 0, countType(all, EventShortPause), "short-pause must not fire before threshold")

	// One more window should cross the threshold.
	all = p.ProcessSamples(silenceWindow())
	require.Equal(t, 1, countType(all, EventShortPause))

	// Short-pause must not refire on subsequent silence windows.
	more := p.ProcessSamples(silenceWindow())
	require.Equal(t, 0, countType(more, EventShortPause))

	// Continue silence until long-pause threshold.
	windowsSoFar := windowsForShort + 2
	windowsForLong := int(th.LongPauseSamples/vad.WindowSamples) + 1
	var longEvents []Event
	for i := windowsSoFar; i < windowsForLong; i++ {
		longEvents = append(longEvents, p.ProcessSamples(silenceWindow())...)
	}
	require.Equal(t, 1, countType(longEvents, EventLongPause))
}

func TestUserSilenceTimeoutFiresOnceAfterSpeechEnd(t *testing.T) {
	p := newTestProcessor(0.9)
	th := p.thresholds
	windowsNeeded := int(th.MinSpeechSamples/vad.WindowSamples) + 1
	feedWindows(p, speechWindow(), windowsNeeded)

	windowsForUserSilence := int(th.UserSilenceSamples/vad.WindowSamples) + 2
	var all []Event
	for i := 0; i < windowsForUserSilence; i++ {
		all = append(all, p.ProcessSamples(silenceWindow())...)
	}
	require.Equal(t, 1, countType(all, EventUserSilenceTimeout))
	require.Equal(t, 1, countType(all, EventSpeechEnd))
}
