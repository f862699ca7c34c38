// Package audio converts between the sample formats used on the capture side
// (float32 in [-1, 1]) and the wire side (16-bit signed little-endian PCM).
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// pcmScale maps a float sample of 1.0 onto the int16 range
	pcmScale = 32768

	// BytesPerSample of 16-bit PCM
	BytesPerSample = 2
)

// FloatToPCM16 converts one sample. The product is truncated toward zero and
// clamped to [-32768, 32767] so that 1.0 does not wrap around to -32768.
func FloatToPCM16(sample float32) int16 {
	if math.IsNaN(float64(sample)) {
		return 0
	}
	v := float64(sample) * pcmScale
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16 converts a capture frame into little-endian 16-bit PCM bytes
func EncodePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*BytesPerSample)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(FloatToPCM16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM bytes back to float samples
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))) / pcmScale
	}
	return out, nil
}

// DecodeFloat32 reads a frame of little-endian IEEE-754 float32 samples,
// the layout a browser Float32Array is sent in.
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// EncodeFloat32 is the inverse of DecodeFloat32
func EncodeFloat32(frame []float32) []byte {
	out := make([]byte, len(frame)*4)
	for i, s := range frame {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
