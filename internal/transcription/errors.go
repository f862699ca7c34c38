package transcription

import "errors"

var (
	// ErrSessionActive is returned by StartSession while another session has
	// not reached StateClosed.
	ErrSessionActive = errors.New("a transcription session is already active")

	// ErrSessionTimeout rejects a session that ran past MaxSessionDuration
	ErrSessionTimeout = errors.New("transcription session exceeded its maximum duration")
)

// PermissionError means the microphone could not be acquired
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return "microphone unavailable: " + e.Err.Error()
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConnectionError means the channel to the speech endpoint failed, either
// during the handshake or while sending audio.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "speech endpoint connection failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StreamError is an error reported by the speech endpoint mid-session
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "speech endpoint reported an error: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }
