// pkg/interfaces/transport.go
package interfaces

import (
	"errors"

	"github.com/lisuiheng/pusher-go/pkg/events"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("transport closed")
)

// Lifecycle signals a Transport emits through Bind.
const (
	EventInitialized = "initialized"
	EventConnecting  = "connecting"
	EventOpen        = "open"
	EventClosed      = "closed"       // payload: *CloseInfo, nil when the close carried no code
	EventError       = "error"        // payload: error
	EventMessage     = "message"      // payload: Message
	EventPingRequest = "ping_request" // payload: nil
)

// Transport is the capability set the protocol layer needs from a
// bidirectional framed-message channel. Operations never block on the
// network; outcomes arrive later as lifecycle events.
type Transport interface {
	events.Binder

	Initialize()
	Connect() bool
	Close()
	Send(data string) bool
	SupportsPing() bool
	State() TransportState
}

// TransportState is informational only; the protocol layer tracks its own state.
type TransportState string

const (
	TransportNew         TransportState = "new"
	TransportInitialized TransportState = "initialized"
	TransportConnecting  TransportState = "connecting"
	TransportOpen        TransportState = "open"
	TransportClosed      TransportState = "closed"
)

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText   MessageType = iota // JSON text
	MsgBinary                    // raw bytes
)

// CloseInfo describes a close frame received from the peer.
type CloseInfo struct {
	Code   int
	Reason string
}
