package vadproc

import (
	"github.com/arch7tect/sip-gateway/internal/audio"
	"github.com/arch7tect/sip-gateway/internal/dynamiccorrection"
	"github.com/arch7tect/sip-gateway/internal/metrics"
	"github.com/arch7tect/sip-gateway/internal/vad"
)

// Processor owns one call's VAD model state, speech/silence buffers, and
// pause-classification flags. It is not safe for concurrent use; the call
// controller drives it from a single audio-processing goroutine per
// call, so VAD events fire in sample order.
type Processor struct {
	cfg        Config
	thresholds Thresholds
	model      vad.Model
	corrector  *dynamiccorrection.Corrector

	modelState []float32
	probRing   []float32

	pending []float32

	currentSample int64

	speechBuffer  []float32
	silenceBuffer []float32

	activeSpeech     bool
	activeLongSpeech bool
	lastWasSpeech    bool

	shortPauseHandled  bool
	longPauseSuspended bool

	userSilenceStart    int64
	userSilenceStartSet bool
	userSilenceFired    bool
}

// New creates a Processor. corrector may be nil, in which case raw
// threshold comparison is used.
func New(cfg Config, model vad.Model, corrector *dynamiccorrection.Corrector) *Processor {
	return &Processor{
		cfg:        cfg,
		thresholds: cfg.Derive(),
		model:      model,
		corrector:  corrector,
		modelState: model.InitializeState(),
	}
}

// SuspendLongPause toggles long_pause_suspended, gating the long-pause
// event without disturbing any other state.
func (p *Processor) SuspendLongPause(suspended bool) {
	p.longPauseSuspended = suspended
}

// CancelUserSilenceTimer clears the pending user-silence timeout, used by
// the call controller on speech-start to cancel a stale user-silence
// timer.
func (p *Processor) CancelUserSilenceTimer() {
	p.userSilenceStartSet = false
	p.userSilenceFired = false
}

// ProcessPCM16 decodes a raw little-endian PCM16 frame, accumulates it, and
// runs every complete 512-sample window through the state machine.
func (p *Processor) ProcessPCM16(data []byte) []Event {
	return p.ProcessSamples(audio.PCM16ToFloat32(data))
}

// ProcessSamples accumulates float32 PCM samples in [-1,1] and runs every
// complete window through the state machine.
func (p *Processor) ProcessSamples(samples []float32) []Event {
	p.pending = append(p.pending, samples...)

	var events []Event
	for len(p.pending) >= vad.WindowSamples {
		window := p.pending[:vad.WindowSamples]
		p.pending = p.pending[vad.WindowSamples:]
		events = append(events, p.processWindow(window)...)
	}
	return events
}

func (p *Processor) processWindow(window []float32) []Event {
	rawProb, newState := p.model.SpeechProbability(window, p.modelState)
	p.modelState = newState

	smoothed := p.smooth(rawProb)

	var isSpeech bool
	if p.corrector != nil {
		e := vad.RMSEnergy(window)
		isSpeech = p.corrector.Update(float64(smoothed), e)
	} else {
		isSpeech = smoothed > p.cfg.Threshold
	}

	p.currentSample += int64(len(window))

	if isSpeech {
		return p.onSpeechWindow(window)
	}
	return p.onSilenceWindow(window)
}

// smooth pushes rawProb into a ring of the last SpeechProbWindow values and
// returns a linearly-weighted average, weights 1..N oldest to newest.
func (p *Processor) smooth(rawProb float32) float32 {
	n := p.cfg.SpeechProbWindow
	if n <= 0 {
		n = 1
	}
	p.probRing = append(p.probRing, rawProb)
	if len(p.probRing) > n {
		p.probRing = p.probRing[len(p.probRing)-n:]
	}
	var weightedSum, weightTotal float32
	for i, v := range p.probRing {
		w := float32(i + 1)
		weightedSum += v * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

func (p *Processor) onSpeechWindow(window []float32) []Event {
	var events []Event

	// A brief sub-threshold gap that never reached min_silence_samples is
	// folded back into the contiguous speech buffer rather than discarded,
	// so short/long-pause payloads stay faithful to everything actually
	// spoken in this segment.
	if p.activeSpeech && len(p.silenceBuffer) > 0 {
		p.speechBuffer = append(p.speechBuffer, p.silenceBuffer...)
		p.silenceBuffer = nil
	}

	p.speechBuffer = append(p.speechBuffer, window...)

	if !p.activeSpeech && int64(len(p.speechBuffer)) >= p.thresholds.MinSpeechSamples {
		p.activeSpeech = true
		p.activeLongSpeech = true
		p.shortPauseHandled = false

		pad := p.silenceBuffer
		if int64(len(pad)) > p.thresholds.SpeechPadSamples {
			pad = pad[int64(len(pad))-p.thresholds.SpeechPadSamples:]
		}
		if len(pad) > 0 {
			faded := applyFadeIn(pad)
			p.speechBuffer = append(append([]float32(nil), faded...), p.speechBuffer...)
		}
		p.silenceBuffer = nil

		events = append(events, Event{Type: EventSpeechStart, Sample: p.currentSample})
	}

	p.lastWasSpeech = true
	return events
}

func (p *Processor) onSilenceWindow(window []float32) []Event {
	var events []Event

	p.silenceBuffer = append(p.silenceBuffer, window...)
	if int64(len(p.silenceBuffer)) > p.thresholds.MaxSilenceSamples {
		overflow := int64(len(p.silenceBuffer)) - p.thresholds.MaxSilenceSamples
		p.silenceBuffer = p.silenceBuffer[overflow:]
	}

	if p.activeSpeech && int64(len(p.silenceBuffer)) >= p.thresholds.MinSilenceSamples {
		p.activeSpeech = false
		metrics.SpeechSegments.Inc()
		events = append(events, Event{Type: EventSpeechEnd, Sample: p.currentSample})
		p.userSilenceStart = p.currentSample - int64(len(p.silenceBuffer))
		p.userSilenceStartSet = true
		p.userSilenceFired = false
	}

	if p.activeLongSpeech {
		if !p.shortPauseHandled && int64(len(p.silenceBuffer)) >= p.thresholds.ShortPauseSamples {
			p.shortPauseHandled = true
			events = append(events, Event{
				Type:   EventShortPause,
				Audio:  p.composePausePayload(),
				Sample: p.currentSample,
			})
		}
		if !p.longPauseSuspended && int64(len(p.silenceBuffer)) >= p.thresholds.LongPauseSamples {
			events = append(events, Event{
				Type:   EventLongPause,
				Audio:  p.composePausePayload(),
				Sample: p.currentSample,
			})
			p.activeLongSpeech = false
			p.speechBuffer = nil
		}
	}

	if !p.activeSpeech && p.userSilenceStartSet && !p.userSilenceFired {
		if p.currentSample-p.userSilenceStart > p.thresholds.UserSilenceSamples {
			p.userSilenceFired = true
			events = append(events, Event{Type: EventUserSilenceTimeout, Sample: p.currentSample})
		}
	}

	p.lastWasSpeech = false
	return events
}

// composePausePayload returns the padded speech buffer minus the trailing
// silence, plus a fade-out of that silence.
func (p *Processor) composePausePayload() []float32 {
	faded := applyFadeOut(p.silenceBuffer)
	out := make([]float32, 0, len(p.speechBuffer)+len(faded))
	out = append(out, p.speechBuffer...)
	out = append(out, faded...)
	return out
}

// Finalize flushes any buffered speech, firing a long-pause if
// speech_buffer has reached min_speech_samples.
func (p *Processor) Finalize() []Event {
	if int64(len(p.speechBuffer)) >= p.thresholds.MinSpeechSamples {
		ev := Event{Type: EventLongPause, Audio: p.composePausePayload(), Sample: p.currentSample}
		p.activeLongSpeech = false
		p.activeSpeech = false
		p.speechBuffer = nil
		p.silenceBuffer = nil
		return []Event{ev}
	}
	return nil
}
