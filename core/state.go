package core

// ConnectionState is the protocol-level state of a ProtocolWrapper.
type ConnectionState string

const (
	StateNew         ConnectionState = "new"
	StateInitialized ConnectionState = "initialized"
	StateConnecting  ConnectionState = "connecting"
	StateOpen        ConnectionState = "open"
	StateConnected   ConnectionState = "connected"
	StateClosed      ConnectionState = "closed"
)

// Events emitted by a ProtocolWrapper. Recovery intents are emitted under
// the name of their protocol.Action.
const (
	EventInitialized = "initialized"
	EventConnecting  = "connecting"
	EventOpen        = "open"
	EventConnected   = "connected" // payload: socket id string
	EventClosed      = "closed"    // payload: *interfaces.CloseInfo, nil without a close code
	EventMessage     = "message"   // payload: protocol.Envelope
	EventError       = "error"     // payload: *protocol.ErrorEvent
	EventPing        = "ping"
	EventPong        = "pong"
	EventPingRequest = "ping_request"
	EventBackoff     = "backoff"
	EventRefused     = "refused"
	EventRetry       = "retry"
	EventSSLOnly     = "ssl_only"
)

// canTransition encodes the success path new -> initialized -> connecting ->
// open -> connected. Closed is terminal and handled separately.
func canTransition(from, to ConnectionState) bool {
	switch to {
	case StateInitialized:
		return from == StateNew
	case StateConnecting:
		return from == StateInitialized
	case StateOpen:
		return from == StateConnecting
	case StateConnected:
		return from == StateOpen
	default:
		return false
	}
}
