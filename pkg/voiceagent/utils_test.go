package voiceagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPCM16Conversion(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0, 1, -1, 2, -2})
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x7f, 0x01, 0x80, 0xff, 0x7f, 0x01, 0x80}, pcm)

	back := PCM16ToFloat32(pcm)
	assert.Len(t, back, 5)
	assert.InDelta(t, 0, back[0], 1e-6)
	assert.InDelta(t, 32767.0/32768, back[1], 1e-6)
	assert.InDelta(t, -32767.0/32768, back[2], 1e-6)

	assert.Len(t, PCM16ToFloat32([]byte{1, 2, 3}), 1)
}

func TestIntsToPCM16(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int
		bitDepth int
		want     []int16
	}{
		{"16 bit", []int{-32768, 0, 32767}, 16, []int16{-32768, 0, 32767}},
		{"24 bit", []int{1 << 16, -(1 << 23)}, 24, []int16{256, -32768}},
		{"8 bit unsigned", []int{128, 255, 0}, 8, []int16{0, 127 << 8, -32768}},
		{"clamped", []int{40000, -40000}, 16, []int16{32767, -32768}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := IntsToPCM16(tt.samples, tt.bitDepth)
			got := make([]int16, len(data)/2)
			for i := range got {
				got[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAudioMath(t *testing.T) {
	assert.InDelta(t, 0.1, PCM16Duration(make([]byte, 3200), 16000), 1e-9)
	assert.Zero(t, PCM16Duration(make([]byte, 10), 0))

	assert.Equal(t, []float32{0.5, -1}, NormalizeAudio([]float32{0.25, -0.5}))
	assert.Equal(t, []float32{0, 0}, NormalizeAudio([]float32{0, 0}))
	assert.Empty(t, NormalizeAudio(nil))

	assert.InDelta(t, 0.5, CalculateRMS([]float32{0.5, -0.5}), 1e-6)
	assert.Zero(t, CalculateRMS(nil))

	gained := ApplyGain([]float32{0.5}, 6.0206)
	assert.InDelta(t, 1.0, gained[0], 1e-3)
}
