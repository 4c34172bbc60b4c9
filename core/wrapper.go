package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
	"github.com/lisuiheng/pusher-go/protocol"
)

// ProtocolWrapper turns the lifecycle and raw frames of one Transport into
// protocol events: handshake completion, application messages, keepalive
// and classified errors. It never reconnects; close codes are surfaced as
// recovery intent events for the caller to act on.
//
// A wrapper is bound to a single transport for its whole life and is done
// once the transport reports closed.
type ProtocolWrapper struct {
	transport interfaces.Transport
	emitter   *events.Dispatcher
	logger    *slog.Logger

	stateMutex      sync.RWMutex
	state           ConnectionState
	socketID        string
	activityTimeout time.Duration
}

type Option func(*ProtocolWrapper)

func WithLogger(log *slog.Logger) Option {
	return func(w *ProtocolWrapper) {
		if log != nil {
			w.logger = log
		}
	}
}

// NewProtocolWrapper subscribes to transport's lifecycle events.
func NewProtocolWrapper(transport interfaces.Transport, opts ...Option) *ProtocolWrapper {
	w := &ProtocolWrapper{
		transport: transport,
		emitter:   events.NewDispatcher(),
		logger:    slog.New(slog.DiscardHandler),
		state:     StateNew,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.bindTransport()
	return w
}

func (w *ProtocolWrapper) bindTransport() {
	w.transport.Bind(interfaces.EventInitialized, func(interface{}) {
		w.advance(StateInitialized, EventInitialized)
	})
	w.transport.Bind(interfaces.EventConnecting, func(interface{}) {
		w.advance(StateConnecting, EventConnecting)
	})
	w.transport.Bind(interfaces.EventOpen, func(interface{}) {
		w.advance(StateOpen, EventOpen)
	})
	w.transport.Bind(interfaces.EventMessage, w.onMessage)
	w.transport.Bind(interfaces.EventPingRequest, func(interface{}) {
		w.emitter.Emit(EventPingRequest, nil)
	})
	w.transport.Bind(interfaces.EventError, w.onTransportError)
	w.transport.Bind(interfaces.EventClosed, w.onClosed)
}

func (w *ProtocolWrapper) unbindTransport() {
	for _, event := range []string{
		interfaces.EventInitialized,
		interfaces.EventConnecting,
		interfaces.EventOpen,
		interfaces.EventMessage,
		interfaces.EventPingRequest,
		interfaces.EventError,
		interfaces.EventClosed,
	} {
		w.transport.Unbind(event)
	}
}

// Bind subscribes handler to one of the wrapper's events.
func (w *ProtocolWrapper) Bind(event string, handler events.Handler) {
	w.emitter.Bind(event, handler)
}

func (w *ProtocolWrapper) Unbind(event string) {
	w.emitter.Unbind(event)
}

// State returns the current protocol state.
func (w *ProtocolWrapper) State() ConnectionState {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.state
}

// SocketID is empty until the handshake completes.
func (w *ProtocolWrapper) SocketID() string {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.socketID
}

// ActivityTimeout is the inactivity interval announced by the server in the
// handshake, or zero.
func (w *ProtocolWrapper) ActivityTimeout() time.Duration {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.activityTimeout
}

func (w *ProtocolWrapper) SupportsPing() bool {
	return w.transport.SupportsPing()
}

// Initialize asks the transport to initialize. The state changes when the
// transport emits initialized.
func (w *ProtocolWrapper) Initialize() {
	w.transport.Initialize()
}

// Connect asks the transport to connect. It is a no-op returning false
// unless the wrapper is initialized.
func (w *ProtocolWrapper) Connect() bool {
	if state := w.State(); state != StateInitialized {
		w.logger.Warn("Connect called in wrong state", "state", state)
		return false
	}
	return w.transport.Connect()
}

// Close forwards to the transport from any state. Closed is reported
// later by the transport.
func (w *ProtocolWrapper) Close() {
	w.logger.Debug("Closing transport", "state", w.State())
	w.transport.Close()
}

// Send writes a raw frame. It returns false when the handshake has not
// completed or the transport rejected the frame; nothing is queued.
func (w *ProtocolWrapper) Send(data string) bool {
	if state := w.State(); state != StateConnected {
		w.logger.Debug("Dropping send before handshake", "state", state)
		return false
	}
	return w.transport.Send(data)
}

// SendEvent encodes an envelope and sends it. An empty channel is omitted
// from the frame.
func (w *ProtocolWrapper) SendEvent(event string, data interface{}, channel string) bool {
	frame, err := protocol.Encode(event, data, channel)
	if err != nil {
		w.logger.Error("Failed to encode event", "event", event, "error", err)
		return false
	}
	w.logger.Debug("Sending event", "event", event, "channel", channel)
	return w.Send(frame)
}

// advance performs a success-path transition and emits event when the
// transition is allowed; signals arriving out of order are ignored.
func (w *ProtocolWrapper) advance(to ConnectionState, event string) bool {
	w.stateMutex.Lock()
	from := w.state
	if !canTransition(from, to) {
		w.stateMutex.Unlock()
		w.logger.Debug("Ignoring transport signal", "state", from, "signal", event)
		return false
	}
	w.state = to
	w.stateMutex.Unlock()

	w.logger.Info("State changed", "from", from, "to", to)
	w.emitter.Emit(event, nil)
	return true
}

func (w *ProtocolWrapper) onMessage(data interface{}) {
	state := w.State()
	if state != StateOpen && state != StateConnected {
		w.logger.Debug("Ignoring frame", "state", state)
		return
	}

	raw, ok := frameBytes(data)
	if !ok {
		w.logger.Warn("Unexpected message payload", "type", fmt.Sprintf("%T", data))
		return
	}

	envelope, err := protocol.Decode(raw)
	if err != nil {
		w.logger.Warn("Failed to decode frame", "error", err)
		w.emitter.Emit(EventError, err)
		return
	}

	switch envelope.Kind() {
	case protocol.KindConnectionEstablished:
		if state == StateOpen {
			w.onHandshake(envelope, raw)
			return
		}
		w.emitter.Emit(EventMessage, envelope)
	case protocol.KindError:
		w.onProtocolError(envelope.Data, state)
	case protocol.KindPing:
		w.emitter.Emit(EventPing, nil)
	case protocol.KindPong:
		w.emitter.Emit(EventPong, nil)
	default:
		w.emitter.Emit(EventMessage, envelope)
	}
}

func (w *ProtocolWrapper) onHandshake(envelope protocol.Envelope, raw []byte) {
	handshake, err := protocol.ParseHandshake(envelope.Data)
	if err != nil {
		w.logger.Warn("Invalid handshake", "error", err)
		w.emitter.Emit(EventError, protocol.NewParseError(string(raw), err))
		return
	}

	w.stateMutex.Lock()
	if w.state != StateOpen {
		w.stateMutex.Unlock()
		return
	}
	w.state = StateConnected
	w.socketID = handshake.SocketID
	w.activityTimeout = time.Duration(handshake.ActivityTimeout) * time.Second
	w.stateMutex.Unlock()

	w.logger.Info("State changed", "from", StateOpen, "to", StateConnected, "socket_id", handshake.SocketID)
	w.emitter.Emit(EventConnected, handshake.SocketID)
}

// onProtocolError handles an in-band pusher:error. During the handshake the
// server is rejecting the attempt, so the transport is closed and the
// payload's code, if any, is classified like a close code.
func (w *ProtocolWrapper) onProtocolError(data interface{}, state ConnectionState) {
	if state == StateConnected {
		w.emitter.Emit(EventError, protocol.NewPusherError(data))
		return
	}

	w.logger.Warn("Handshake rejected by server", "data", data)
	w.transport.Close()
	w.emitter.Emit(EventError, protocol.NewPusherError(data))

	if code, ok := protocol.ErrorCode(data); ok {
		if action := protocol.Classify(code); action != protocol.ActionNormal {
			w.emitter.Emit(string(action), nil)
		}
	}
}

func (w *ProtocolWrapper) onTransportError(data interface{}) {
	err, ok := data.(error)
	if !ok {
		err = fmt.Errorf("%v", data)
	}
	w.logger.Warn("Transport error", "error", err)
	w.emitter.Emit(EventError, protocol.NewWebSocketError(err))
}

func (w *ProtocolWrapper) onClosed(data interface{}) {
	w.stateMutex.Lock()
	from := w.state
	if from == StateClosed {
		w.stateMutex.Unlock()
		return
	}
	w.state = StateClosed
	w.stateMutex.Unlock()

	info, _ := data.(*interfaces.CloseInfo)
	if info != nil {
		w.logger.Info("State changed", "from", from, "to", StateClosed, "code", info.Code, "reason", info.Reason)
		if action := protocol.Classify(info.Code); action != protocol.ActionNormal {
			w.emitter.Emit(EventError, protocol.NewPusherError(protocol.CloseError{
				Code:    info.Code,
				Message: info.Reason,
			}))
			w.emitter.Emit(string(action), nil)
		}
	} else {
		w.logger.Info("State changed", "from", from, "to", StateClosed)
	}

	w.unbindTransport()

	var payload interface{}
	if info != nil {
		payload = info
	}
	w.emitter.Emit(EventClosed, payload)
}

func frameBytes(data interface{}) ([]byte, bool) {
	switch m := data.(type) {
	case interfaces.Message:
		return m.Payload, true
	case *interfaces.Message:
		if m == nil {
			return nil, false
		}
		return m.Payload, true
	case []byte:
		return m, true
	case string:
		return []byte(m), true
	default:
		return nil, false
	}
}
