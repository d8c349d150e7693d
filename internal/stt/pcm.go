package stt

import "encoding/binary"

// EncodePCM16 converts 32-bit float samples to little-endian signed 16-bit
// PCM. Samples are clamped to [-1, 1] before scaling so clipped input cannot
// overflow int16.
func EncodePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
