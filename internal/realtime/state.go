package realtime

// State is the position of a call in its lifecycle. States only move forward.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateNegotiated
	StateConfiguring
	StateConversing
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateNegotiated:
		return "negotiated"
	case StateConfiguring:
		return "configuring"
	case StateConversing:
		return "conversing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
