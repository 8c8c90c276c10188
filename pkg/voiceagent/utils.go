package voiceagent

import (
	"encoding/binary"
	"math"
)

// Sample format helpers for 16-bit little-endian PCM, the wire format of
// captured and synthesized audio.

func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// PCM16ToFloat32 ignores a trailing odd byte.
func PCM16ToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}

// IntsToPCM16 packs integer samples of the given bit depth into s16le.
func IntsToPCM16(samples []int, bitDepth int) []byte {
	shift := bitDepth - 16
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		if bitDepth == 8 {
			// 8-bit WAV is unsigned.
			s -= 128 << 8
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clampInt16(s))))
	}
	return out
}

func clampInt16(v int) int {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}

// PCM16Duration returns the play time of data at sampleRate, mono.
func PCM16Duration(data []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(data)/2) / float64(sampleRate)
}

func NormalizeAudio(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	var peak float32
	for _, s := range samples {
		if abs := float32(math.Abs(float64(s))); abs > peak {
			peak = abs
		}
	}
	if peak == 0 {
		return samples
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

func CalculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s * s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

func ApplyGain(samples []float32, gainDb float32) []float32 {
	gain := float32(math.Pow(10, float64(gainDb)/20))
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}
