package transcription

// State is the lifecycle position of a Session
type State int32

const (
	// StateConnecting: the handshake is in flight, capture is acquired but
	// frames are not forwarded.
	StateConnecting State = iota
	// StateStreaming: capture frames flow to the speech endpoint.
	StateStreaming
	// StateFinalizing: a terminal event won; the outcome is fixed and
	// resources are being released.
	StateFinalizing
	// StateClosed: everything is released and the result is available.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists every legal edge of the state machine
var transitions = map[State][]State{
	StateConnecting: {StateStreaming, StateFinalizing},
	StateStreaming:  {StateFinalizing},
	StateFinalizing: {StateClosed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
