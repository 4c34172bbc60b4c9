// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
)

var _ interfaces.Transport = (*Transport)(nil)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
)

// Transport is a gorilla/websocket implementation of interfaces.Transport.
// Dialing and reading happen on background goroutines; lifecycle events are
// delivered one at a time.
type Transport struct {
	url              string
	header           http.Header
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	logger           *slog.Logger

	emitter *events.Dispatcher
	emitMu  sync.Mutex

	mu      sync.Mutex
	writeMu sync.Mutex
	state   interfaces.TransportState
	conn    *websocket.Conn
	cancel  context.CancelFunc
	closed  bool
}

type Option func(*Transport)

func WithHeader(header http.Header) Option {
	return func(t *Transport) {
		t.header = header.Clone()
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.handshakeTimeout = d
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(t *Transport) {
		if dialer != nil {
			t.dialer = dialer
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) {
		if log != nil {
			t.logger = log
		}
	}
}

func NewTransport(url string, opts ...Option) *Transport {
	t := &Transport{
		url:              url,
		header:           http.Header{},
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           slog.New(slog.DiscardHandler),
		emitter:          events.NewDispatcher(),
		state:            interfaces.TransportNew,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = t.handshakeTimeout
		t.dialer = &dialer
	}
	return t
}

func (t *Transport) Bind(event string, handler events.Handler) {
	t.emitter.Bind(event, handler)
}

func (t *Transport) Unbind(event string) {
	t.emitter.Unbind(event)
}

func (t *Transport) State() interfaces.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SupportsPing is true: the server's native ping frames are answered here.
func (t *Transport) SupportsPing() bool { return true }

func (t *Transport) emit(event string, data interface{}) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	t.emitter.Emit(event, data)
}

func (t *Transport) Initialize() {
	t.mu.Lock()
	if t.state != interfaces.TransportNew {
		t.mu.Unlock()
		return
	}
	t.state = interfaces.TransportInitialized
	t.mu.Unlock()

	t.emit(interfaces.EventInitialized, nil)
}

// Connect starts dialing in the background. It returns false unless the
// transport is initialized.
func (t *Transport) Connect() bool {
	t.mu.Lock()
	if t.state != interfaces.TransportInitialized {
		t.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.state = interfaces.TransportConnecting
	t.cancel = cancel
	t.mu.Unlock()

	go t.dial(ctx)
	return true
}

// dial runs on its own goroutine so that Connect can be called from inside
// an event handler.
func (t *Transport) dial(ctx context.Context) {
	t.emit(interfaces.EventConnecting, nil)
	t.logger.Debug("Dialing", "url", t.url)
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		t.logger.Warn("Dial failed", "url", t.url, "error", err)
		if !t.isClosed() {
			t.emit(interfaces.EventError, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err))
		}
		t.finish(nil)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		t.finish(nil)
		return
	}
	t.conn = conn
	t.state = interfaces.TransportOpen
	t.mu.Unlock()

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		t.emit(interfaces.EventPingRequest, nil)
		return nil
	})

	t.emit(interfaces.EventOpen, nil)
	t.readPump(conn)
}

func (t *Transport) readPump(conn *websocket.Conn) {
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && hasCloseCode(closeErr.Code) {
				t.finish(&interfaces.CloseInfo{Code: closeErr.Code, Reason: closeErr.Text})
				return
			}
			t.logger.Debug("Read loop ended", "error", err)
			t.finish(nil)
			return
		}
		t.emit(interfaces.EventMessage, interfaces.Message{
			Payload: data,
			Type:    convertMsgType(msgType),
		})
	}
}

// hasCloseCode is false for the codes gorilla reports when the peer sent
// no close frame.
func hasCloseCode(code int) bool {
	return code != websocket.CloseNoStatusReceived && code != websocket.CloseAbnormalClosure
}

func convertMsgType(wsType int) interfaces.MessageType {
	if wsType == websocket.BinaryMessage {
		return interfaces.MsgBinary
	}
	return interfaces.MsgText
}

// finish moves to closed and emits closed exactly once.
func (t *Transport) finish(info *interfaces.CloseInfo) {
	t.mu.Lock()
	if t.state == interfaces.TransportClosed {
		t.mu.Unlock()
		return
	}
	t.state = interfaces.TransportClosed
	t.closed = true
	t.conn = nil
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	if info != nil {
		t.emit(interfaces.EventClosed, info)
		return
	}
	t.emit(interfaces.EventClosed, nil)
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send writes a text frame. It returns false when the socket is not open or
// the write fails.
func (t *Transport) Send(data string) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.logger.Warn("Write failed", "error", err)
		return false
	}
	return true
}

// Close may be called any number of times from any state. An open socket
// gets a normal close frame and the closed event follows from the read
// loop. A pending dial is cancelled.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	state := t.state
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	switch state {
	case interfaces.TransportOpen:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			t.logger.Debug("Close frame not sent", "error", err)
			conn.Close()
		}
		time.AfterFunc(writeWait, func() { conn.Close() })
	case interfaces.TransportConnecting:
		if cancel != nil {
			cancel()
		}
	case interfaces.TransportClosed:
	default:
		// Close may run inside an event handler; deliver closed afterwards.
		go t.finish(nil)
	}
}
