// Package dynamiccorrection implements the optional sub-policy the
// streaming VAD processor uses in place of raw threshold comparison when
// enabled: a per-window Update call replacing threshold comparison with
// a noise-floor/peak-tracking/hysteresis algorithm.
package dynamiccorrection

import "math"

// Weights combines the four per-frame signals into one score.
type Weights struct {
	Prob float64
	SNR  float64
	Var  float64
	Eng  float64
}

// DefaultWeights sums to 1.0, weighting the raw probability highest.
var DefaultWeights = Weights{Prob: 0.4, SNR: 0.25, Var: 0.15, Eng: 0.2}

// Config holds every tunable the correction algorithm exposes.
type Config struct {
	InitialNoiseAlpha  float64
	NoiseAlpha         float64
	InitialAdaptFrames int
	PeakDecay          float64
	Epsilon            float64
	EarlyProbBoost     float64
	EarlyPhaseFrames   int
	SNRClip            float64
	SpeechProbThresh   float64
	ScoreWindow        int
	EnterThreshold     float64
	EarlyEnterThresh   float64
	ExitThreshold      float64
	ProbBufferSize     int
	WarmupFrames       int
	Weights            Weights
}

// DefaultConfig is a package-level "sane defaults" constructor, following
// the same shape as vadproc.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		InitialNoiseAlpha:  0.2,
		NoiseAlpha:         0.02,
		InitialAdaptFrames: 20,
		PeakDecay:          0.01,
		Epsilon:            1e-6,
		EarlyProbBoost:     0.15,
		EarlyPhaseFrames:   50,
		SNRClip:            10.0,
		SpeechProbThresh:   0.5,
		ScoreWindow:        5,
		EnterThreshold:     0.55,
		EarlyEnterThresh:   0.45,
		ExitThreshold:      0.35,
		ProbBufferSize:     20,
		WarmupFrames:       30,
		Weights:            DefaultWeights,
	}
}

// Corrector holds the running state for one call's dynamic correction.
type Corrector struct {
	cfg Config

	noise float64
	peak  float64

	probBuf  []float64
	scoreBuf []float64

	state bool

	warmupSamples []float64
	warmedUp      bool

	framesSeen int
	inEarly    bool
}

// New creates a Corrector, entering the early phase from frame 0.
func New(cfg Config) *Corrector {
	return &Corrector{cfg: cfg, inEarly: true}
}

// Update runs one frame through the correction algorithm and returns the
// post-hysteresis boolean the streaming VAD processor substitutes for raw
// threshold comparison.
func (c *Corrector) Update(p float64, e float64) bool {
	cfg := c.cfg

	if !c.warmedUp {
		c.warmupSamples = append(c.warmupSamples, e)
		if len(c.warmupSamples) >= cfg.WarmupFrames {
			c.noise = percentile10(c.warmupSamples)
			c.peak = c.noise + cfg.Epsilon
			c.warmedUp = true
		}
	}

	// 1. Update noise estimate.
	if !c.state && p < 0.3 {
		alpha := cfg.NoiseAlpha
		if c.framesSeen < cfg.InitialAdaptFrames {
			alpha = cfg.InitialNoiseAlpha
		}
		c.noise = (1-alpha)*c.noise + alpha*e
	}

	// 2. Update peak.
	if e > c.peak {
		c.peak = e
	}
	c.peak = (1-cfg.PeakDecay)*c.peak + cfg.PeakDecay*c.noise
	if c.peak < c.noise+cfg.Epsilon {
		c.peak = c.noise + cfg.Epsilon
	}

	// 3. Early-phase probability boost.
	pPrime := p
	if c.inEarly {
		pPrime = math.Min(1, p+cfg.EarlyProbBoost)
	}

	// 4. SNR, variance, normalized energy.
	snr := clipNorm(e/nonZero(c.noise, cfg.Epsilon), cfg.SNRClip)

	c.probBuf = append(c.probBuf, pPrime)
	if len(c.probBuf) > cfg.ProbBufferSize {
		c.probBuf = c.probBuf[1:]
	}
	variance := c.foregroundVariance(pPrime)

	eng := clip01((e - c.noise) / (c.peak - c.noise + cfg.Epsilon))

	// 5. Combined score.
	w := cfg.Weights
	score := w.Prob*pPrime + w.SNR*snr + w.Var*variance + w.Eng*eng

	c.scoreBuf = append(c.scoreBuf, score)
	if len(c.scoreBuf) > cfg.ScoreWindow {
		c.scoreBuf = c.scoreBuf[1:]
	}
	meanScore := mean(c.scoreBuf)

	// 6. Hysteresis.
	enterThresh := cfg.EnterThreshold
	if c.inEarly {
		enterThresh = cfg.EarlyEnterThresh
	}
	if !c.state && meanScore > enterThresh {
		c.state = true
	} else if c.state && meanScore < cfg.ExitThreshold {
		c.state = false
	}

	// 7. Early phase ends when state becomes true or the frame budget elapses.
	c.framesSeen++
	if c.inEarly && (c.state || c.framesSeen >= cfg.EarlyPhaseFrames) {
		c.inEarly = false
	}

	return c.state
}

// foregroundVariance uses the most recent 6-window slice during a detected
// transition (the last value crossing SpeechProbThresh differently from the
// one before it), otherwise the whole buffer filtered to entries above
// SpeechProbThresh.
func (c *Corrector) foregroundVariance(latest float64) float64 {
	n := len(c.probBuf)
	if n < 2 {
		return 0
	}
	transitioning := (c.probBuf[n-2] > c.cfg.SpeechProbThresh) != (latest > c.cfg.SpeechProbThresh)
	var window []float64
	if transitioning {
		start := n - 6
		if start < 0 {
			start = 0
		}
		window = c.probBuf[start:]
	} else {
		for _, v := range c.probBuf {
			if v > c.cfg.SpeechProbThresh {
				window = append(window, v)
			}
		}
	}
	if len(window) < 2 {
		return 0
	}
	m := mean(window)
	var sumSq float64
	for _, v := range window {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(window))
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clipNorm(v, clip float64) float64 {
	if v > clip {
		v = clip
	}
	if v < 0 {
		v = 0
	}
	return v / clip
}

func nonZero(v, eps float64) float64 {
	if v <= 0 {
		return eps
	}
	return v
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// percentile10 returns the 10th-percentile value of samples, used to seed
// the noise floor from a warm-up window.
func percentile10(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := int(float64(len(sorted)-1) * 0.10)
	return sorted[idx]
}
