package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReservedPrefix namespaces the events owned by the protocol itself.
const ReservedPrefix = "pusher:"

// Reserved event names on the wire.
const (
	EventConnectionEstablished = ReservedPrefix + "connection_established"
	EventError                 = ReservedPrefix + "error"
	EventPing                  = ReservedPrefix + "ping"
	EventPong                  = ReservedPrefix + "pong"
)

// EventKind tells reserved protocol events apart from application events.
type EventKind int

const (
	KindApplication EventKind = iota
	KindConnectionEstablished
	KindError
	KindPing
	KindPong
)

func (k EventKind) String() string {
	switch k {
	case KindConnectionEstablished:
		return "connection_established"
	case KindError:
		return "error"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return "application"
	}
}

// KindOf maps a wire event name to its kind. Unknown names, including
// unknown names under the reserved prefix, are application events.
func KindOf(event string) EventKind {
	switch event {
	case EventConnectionEstablished:
		return KindConnectionEstablished
	case EventError:
		return KindError
	case EventPing:
		return KindPing
	case EventPong:
		return KindPong
	default:
		return KindApplication
	}
}

// IsReserved reports whether event uses the protocol namespace.
func IsReserved(event string) bool {
	return strings.HasPrefix(event, ReservedPrefix)
}

// Envelope is the JSON unit exchanged over the transport. Field order is
// the serialized key order.
type Envelope struct {
	Event   string      `json:"event"`
	Data    interface{} `json:"data"`
	Channel string      `json:"channel,omitempty"`
}

// Kind classifies the envelope's event name.
func (e Envelope) Kind() EventKind {
	return KindOf(e.Event)
}

// Handshake is the payload of a connection_established event.
type Handshake struct {
	SocketID        string
	ActivityTimeout int // seconds, 0 when the server did not send one
}

// Decode parses a raw frame. A frame that is not a JSON object carrying a
// string event yields a MessageParseError holding the raw text.
func Decode(raw []byte) (Envelope, error) {
	var wire struct {
		Event   *string     `json:"event"`
		Data    interface{} `json:"data"`
		Channel string      `json:"channel"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, NewParseError(string(raw), err)
	}
	if wire.Event == nil {
		return Envelope{}, NewParseError(string(raw), fmt.Errorf("missing event name"))
	}
	return Envelope{
		Event:   *wire.Event,
		Data:    wire.Data,
		Channel: wire.Channel,
	}, nil
}

// Encode serializes an envelope as {"event","data"[,"channel"]}. The channel
// key is present only when channel is non-empty.
func Encode(event string, data interface{}, channel string) (string, error) {
	b, err := json.Marshal(Envelope{Event: event, Data: data, Channel: channel})
	if err != nil {
		return "", fmt.Errorf("failed to encode event %s: %w", event, err)
	}
	return string(b), nil
}

// ParseHandshake extracts the socket id from connection_established data.
// The server may send the data either as an object or as a JSON string
// encoding that object.
func ParseHandshake(data interface{}) (Handshake, error) {
	if s, ok := data.(string); ok {
		var inner interface{}
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return Handshake{}, fmt.Errorf("handshake data is not JSON: %w", err)
		}
		data = inner
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		return Handshake{}, fmt.Errorf("handshake data is %T, want object", data)
	}
	socketID, ok := obj["socket_id"].(string)
	if !ok || socketID == "" {
		return Handshake{}, fmt.Errorf("handshake data has no socket_id")
	}

	h := Handshake{SocketID: socketID}
	if timeout, ok := obj["activity_timeout"].(float64); ok && timeout > 0 {
		h.ActivityTimeout = int(timeout)
	}
	return h, nil
}

// ErrorCode returns the numeric code of a pusher:error payload, if any.
func ErrorCode(data interface{}) (int, bool) {
	obj, ok := data.(map[string]interface{})
	if !ok {
		return 0, false
	}
	code, ok := obj["code"].(float64)
	if !ok || code != float64(int(code)) {
		return 0, false
	}
	return int(code), true
}
