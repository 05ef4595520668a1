// internal/model/link.go
package model

// ConnectionType represents which external resource a link talks to
type ConnectionType string

const (
	ConnectionTypeSerial    ConnectionType = "SERIAL"
	ConnectionTypeWebSocket ConnectionType = "WEBSOCKET"
)

// LinkState represents the lifecycle status of a single external resource
type LinkState string

const (
	LinkStateClosed  LinkState = "CLOSED"
	LinkStateOpening LinkState = "OPENING"
	LinkStateOpen    LinkState = "OPEN"
	LinkStateFaulted LinkState = "FAULTED"
)

// IsOpen reports whether the link can currently carry data
func (s LinkState) IsOpen() bool { return s == LinkStateOpen }

// GaugeValue maps the state onto a number for metrics export
func (s LinkState) GaugeValue() float64 {
	switch s {
	case LinkStateOpening:
		return 1
	case LinkStateOpen:
		return 2
	case LinkStateFaulted:
		return -1
	default:
		return 0
	}
}

// HandshakeState represents the progress of the post-connect exchange
type HandshakeState string

const (
	HandshakeNotStarted           HandshakeState = "NOT_STARTED"
	HandshakeAwaitingTokenAck     HandshakeState = "AWAITING_TOKEN_ACK"
	HandshakeAwaitingDirectiveAck HandshakeState = "AWAITING_DIRECTIVE_ACK"
	HandshakeReady                HandshakeState = "READY"
)

// IsReady reports whether the endpoint accepts metric messages
func (s HandshakeState) IsReady() bool { return s == HandshakeReady }

// IsAwaiting reports whether the engine is blocked on an acknowledgment
func (s HandshakeState) IsAwaiting() bool {
	return s == HandshakeAwaitingTokenAck || s == HandshakeAwaitingDirectiveAck
}
