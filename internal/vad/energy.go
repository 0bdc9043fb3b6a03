package vad

import "math"

// EnergyModel is the fallback Model implementation used when no neural
// estimator is configured: it maps an RMS-energy-in-dB reading onto a
// smoothed [0,1] probability rather than a single go/no-go decision, so
// it slots into the Model contract without changing the streaming VAD
// processor's downstream logic.
type EnergyModel struct {
	sampleRate int
	// FloorDB and CeilDB bound the dB range mapped onto [0,1]; energy at or
	// below FloorDB scores 0, at or above CeilDB scores 1.
	FloorDB float64
	CeilDB  float64
}

// NewEnergyModel builds an EnergyModel for sampleRate with a -30dB
// speech threshold mapped to the middle of a 40dB-wide ramp.
func NewEnergyModel(sampleRate int) *EnergyModel {
	return &EnergyModel{sampleRate: sampleRate, FloorDB: -50, CeilDB: -10}
}

func (m *EnergyModel) SamplingRate() int { return m.sampleRate }

// InitializeState returns an empty state: the energy model is memoryless
// per window, so state is never read back.
func (m *EnergyModel) InitializeState() []float32 { return nil }

func (m *EnergyModel) SpeechProbability(window []float32, state []float32) (float32, []float32) {
	window = normalizeWindow(window)
	db := energyDB(window)
	if db <= m.FloorDB {
		return 0, state
	}
	if db >= m.CeilDB {
		return 1, state
	}
	p := (db - m.FloorDB) / (m.CeilDB - m.FloorDB)
	return float32(p), state
}

// energyDB returns 20*log10(rms), or -100 for silence/empty input.
func energyDB(samples []float32) float64 {
	rms := RMSEnergy(samples)
	if rms <= 0 {
		return -100
	}
	return 20 * math.Log10(rms)
}

// RMSEnergy returns the root-mean-square energy of samples, the linear
// frame energy the dynamic correction sub-policy operates on.
func RMSEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
