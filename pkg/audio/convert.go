package audio

import "fmt"

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Out-of-range values are clamped first. Negative values scale
// by 32768 and non-negative values by 32767 so that +1.0 cannot overflow
// past the positive int16 boundary.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}

		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples by
// dividing by 32768, yielding values in [-1, 1). An odd byte count means the
// payload is corrupt and an error is returned so the caller can drop it.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM16 byte count %d", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// Silence fills block with zero samples. The playback buffer substitutes
// silence for missing data during starvation; writing zeros in place keeps
// the real-time path allocation free.
func Silence(block []float32) {
	for i := range block {
		block[i] = 0
	}
}
