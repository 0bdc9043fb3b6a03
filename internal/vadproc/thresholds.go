// Package vadproc implements the streaming VAD processor that turns a
// continuous PCM stream into semantic events (speech-start, speech-end,
// short-pause, long-pause, user-silence-timeout), optionally consulting
// the dynamiccorrection sub-policy in place of raw threshold comparison.
// Follows a handleSpeech/handleSilence dispatch and pre-roll buffering
// idiom, generalized to a five-event, dual-pause-threshold state machine.
package vadproc

// Config holds the millisecond tunables the derived-sample-count table is
// built from; all defaults are the ones the table lists.
type Config struct {
	SampleRate      int
	MinSpeechMs     int
	MinSilenceMs    int
	PadMs           int
	ShortPauseMs    int
	LongPauseMs     int
	UserSilenceMs   int
	Threshold       float32
	SpeechProbWindow int
}

// DefaultConfig returns the standard defaults at 16kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:       16000,
		MinSpeechMs:      150,
		MinSilenceMs:     300,
		PadMs:            700,
		ShortPauseMs:     200,
		LongPauseMs:      850,
		UserSilenceMs:    60000,
		Threshold:        0.5,
		SpeechProbWindow: 5,
	}
}

// Thresholds is Config's tunables converted to sample counts at Config's
// sample rate.
type Thresholds struct {
	MinSpeechSamples    int64
	MinSilenceSamples   int64
	SpeechPadSamples    int64
	ShortPauseSamples   int64
	LongPauseSamples    int64
	UserSilenceSamples  int64
	MaxSilenceSamples   int64
}

func msToSamples(rate, ms int) int64 {
	return int64(rate) * int64(ms) / 1000
}

// Derive computes Thresholds for cfg, scaling linearly for any sample rate.
func (cfg Config) Derive() Thresholds {
	rate := cfg.SampleRate
	minSpeech := msToSamples(rate, cfg.MinSpeechMs)
	minSilence := msToSamples(rate, cfg.MinSilenceMs)
	pad := msToSamples(rate, cfg.PadMs)
	short := minSilence + msToSamples(rate, cfg.ShortPauseMs)
	long := short + msToSamples(rate, cfg.LongPauseMs)
	userSilence := msToSamples(rate, cfg.UserSilenceMs)

	maxPadMs := cfg.PadMs * 2
	if cfg.MinSilenceMs > maxPadMs {
		maxPadMs = cfg.MinSilenceMs
	}
	maxSilence := msToSamples(rate, maxPadMs)

	return Thresholds{
		MinSpeechSamples:   minSpeech,
		MinSilenceSamples:  minSilence,
		SpeechPadSamples:   pad,
		ShortPauseSamples:  short,
		LongPauseSamples:   long,
		UserSilenceSamples: userSilence,
		MaxSilenceSamples:  maxSilence,
	}
}
