package audio

import (
	"encoding/binary"
	"math"
)

func decodePCM(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

// PCM16ToFloat32 converts a little-endian 16-bit signed PCM byte slice to
// float32 samples in [-1, 1]. Exported for vadproc.Processor.ProcessPCM16,
// which converts the raw mono PCM16 frames it receives with it.
func PCM16ToFloat32(data []byte) []float32 {
	return decodePCM(data)
}
