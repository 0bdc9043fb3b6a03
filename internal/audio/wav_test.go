package audio

import (
	"bytes"
	"testing"

	"github.com/go-audio/wav"
)

// Round-trips SamplesToWAV's output through go-audio/wav's decoder, the
// same dec.FullPCMBuffer()/AsFloat32Buffer() pattern used elsewhere to
// turn a decoded WAV file into VAD-ready float32 frames.
func TestSamplesToWAVDecodesWithGoAudio(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1, 0.25, -0.25}
	encoded := SamplesToWAV(samples, 16000)

	dec := wav.NewDecoder(bytes.NewReader(encoded))
	if !dec.IsValidFile() {
		t.Fatal("encoded buffer is not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}

	if dec.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Fatalf("channels = %d, want 1", dec.NumChans)
	}

	floatBuf := buf.AsFloat32Buffer()
	if len(floatBuf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(floatBuf.Data), len(samples))
	}

	for i, want := range samples {
		got := floatBuf.Data[i]
		if diff := got - want; diff > 0.001 || diff < -0.001 {
			t.Errorf("sample %d = %f, want %f", i, got, want)
		}
	}
}
