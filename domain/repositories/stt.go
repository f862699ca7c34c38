package repositories

import (
	"context"
	"fmt"
)

// RealtimeTranscriber opens streaming connections to a remote speech endpoint
type RealtimeTranscriber interface {
	// Connect performs the handshake and returns once the connection is ready
	// to accept audio.
	Connect(ctx context.Context, config AudioConfig) (RealtimeConnection, error)
}

// RealtimeConnection is one bidirectional channel to the speech endpoint.
//
// Events is closed by the implementation after it has delivered a terminal
// event (TurnComplete, Error or Closed) or after Close was called.
type RealtimeConnection interface {
	// SendAudio pushes one chunk. It does not wait for acknowledgement.
	SendAudio(chunk AudioChunk) error
	// EndTurn asks the endpoint to finish the current turn.
	EndTurn() error
	Events() <-chan TranscriptionEvent
	// Close is idempotent.
	Close() error
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
	Encoding   string `json:"encoding" yaml:"encoding"`
	Language   string `json:"language" yaml:"language"`
}

// MIMEType returns the descriptor the endpoint expects on every chunk,
// e.g. "audio/pcm;rate=16000".
func (c AudioConfig) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", c.SampleRate)
}

// AudioChunk is one encoded capture frame
type AudioChunk struct {
	Data     []byte
	MIMEType string
}

// EventKind identifies what the remote endpoint reported
type EventKind int

const (
	EventTranscript EventKind = iota
	EventTurnComplete
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends the turn
func (k EventKind) Terminal() bool {
	return k != EventTranscript
}

// TranscriptionEvent is a single message from the remote endpoint
type TranscriptionEvent struct {
	Kind EventKind
	// Text is set for EventTranscript
	Text string
	// Err is set for EventError
	Err error
}
