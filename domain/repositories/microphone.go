package repositories

import (
	"context"
	"errors"
)

// Microphone grants access to a live audio input device
type Microphone interface {
	// Open requests capture permission and acquires the device. It may block
	// until the user answers the permission prompt.
	Open(ctx context.Context, sampleRate int) (CaptureStream, error)
}

// CaptureStream is an acquired input device. Frames are mono float32 samples
// in [-1, 1]. Nothing is delivered on Frames until Start is called.
type CaptureStream interface {
	Start() error
	Frames() <-chan []float32
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// ErrMicrophonePermissionDenied is returned by Open when the user refuses capture
var ErrMicrophonePermissionDenied = errors.New("microphone permission denied")
