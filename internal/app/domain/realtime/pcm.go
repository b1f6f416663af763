package realtime

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// FloatToPCM16 converts float samples in [-1, 1] to signed 16-bit PCM. Samples are rounded
// and clamped to [-32768, 32767]; positive samples scale by 32767 and negative ones by 32768
// so that -1.0 reaches the bottom of the range.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(float64(s))
	}
	return out
}

func floatToInt16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	var v float64
	if s < 0 {
		v = math.Round(s * 32768)
	} else {
		v = math.Round(s * 32767)
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16LE serializes PCM16 samples as little-endian bytes.
func EncodePCM16LE(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16LE parses little-endian PCM16 bytes into float samples in [-1, 1].
// A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if s < 0 {
			samples[i] = float32(s) / 32768
		} else {
			samples[i] = float32(s) / math.MaxInt16
		}
	}
	return samples
}

// EncodeFrame converts a float frame to base64 PCM16 LE, the payload of
// input_audio_buffer.append.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16LE(FloatToPCM16(samples)))
}
