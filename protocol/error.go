package protocol

import "fmt"

// ErrorType identifies the origin of an ErrorEvent.
type ErrorType string

const (
	// PusherError is a condition reported by the server, in-band or as a close code.
	PusherError ErrorType = "PusherError"
	// MessageParseError is a frame that could not be decoded.
	MessageParseError ErrorType = "MessageParseError"
	// WebSocketError is an error raised by the transport itself.
	WebSocketError ErrorType = "WebSocketError"
)

// ErrorEvent is the payload of every "error" event. Data is set for
// PusherError (the server payload) and MessageParseError (the raw frame);
// Err is set for WebSocketError and, when known, for parse failures.
type ErrorEvent struct {
	Type ErrorType
	Data interface{}
	Err  error
}

// CloseError is the Data of a PusherError derived from a close frame.
type CloseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewPusherError(data interface{}) *ErrorEvent {
	return &ErrorEvent{Type: PusherError, Data: data}
}

func NewParseError(raw string, err error) *ErrorEvent {
	return &ErrorEvent{Type: MessageParseError, Data: raw, Err: err}
}

func NewWebSocketError(err error) *ErrorEvent {
	return &ErrorEvent{Type: WebSocketError, Err: err}
}

func (e *ErrorEvent) Error() string {
	switch e.Type {
	case WebSocketError:
		return fmt.Sprintf("%s: %v", e.Type, e.Err)
	case MessageParseError:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: %q", e.Type, e.Err, e.Data)
		}
		return fmt.Sprintf("%s: %q", e.Type, e.Data)
	default:
		if ce, ok := e.Data.(CloseError); ok {
			return fmt.Sprintf("%s: %d %s", e.Type, ce.Code, ce.Message)
		}
		return fmt.Sprintf("%s: %v", e.Type, e.Data)
	}
}

func (e *ErrorEvent) Unwrap() error {
	return e.Err
}
