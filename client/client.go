// Package client owns the reconnection policy around ProtocolWrapper. Each
// connection attempt gets a fresh transport and wrapper; the recovery intent
// emitted before closed decides when, and how, the next attempt happens.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/pusher-go/config"
	"github.com/lisuiheng/pusher-go/core"
	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
	"github.com/lisuiheng/pusher-go/protocol"
	"github.com/lisuiheng/pusher-go/utils"
)

var (
	ErrRefused    = errors.New("connection refused by server")
	ErrSendFailed = errors.New("send failed")
)

// Events emitted by a Client.
const (
	EventConnected   = "connected"    // payload: socket id string
	EventMessage     = "message"      // payload: protocol.Envelope
	EventError       = "error"        // payload: *protocol.ErrorEvent or error
	EventStateChange = "state_change" // payload: StateChange
)

type State string

const (
	StateInitialized  State = "initialized"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateUnavailable  State = "unavailable"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
)

type StateChange struct {
	Previous State
	Current  State
}

// TransportFactory creates the transport for one attempt at url.
type TransportFactory func(url string) interfaces.Transport

type Client struct {
	cfg       config.Config
	factory   TransportFactory
	logger    *slog.Logger
	emitter   *events.Dispatcher
	strategy  utils.ReconnectStrategy
	observers []func(events.Binder)

	mu       sync.Mutex // guards the fields below and strategy
	state    State
	wrapper  *core.ProtocolWrapper
	intent   protocol.Action
	secure   bool
	stopped  bool
	timer    *time.Timer
	socketID string
}

type Option func(*Client)

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

func WithStrategy(strategy utils.ReconnectStrategy) Option {
	return func(c *Client) {
		if strategy != nil {
			c.strategy = strategy
		}
	}
}

// WithObserver is called with every new wrapper before it connects, for
// example to attach a metrics collector.
func WithObserver(observe func(events.Binder)) Option {
	return func(c *Client) {
		if observe != nil {
			c.observers = append(c.observers, observe)
		}
	}
}

func New(cfg config.Config, factory TransportFactory, opts ...Option) (*Client, error) {
	if factory == nil {
		return nil, errors.New("transport factory cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		factory:  factory,
		logger:   slog.New(slog.DiscardHandler),
		emitter:  events.NewDispatcher(),
		strategy: utils.NewExponentialBackoff(cfg.Connection.Backoff.Initial, cfg.Connection.Backoff.Max),
		state:    StateInitialized,
		secure:   cfg.Connection.UseTLS,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Bind(event string, handler events.Handler) {
	c.emitter.Bind(event, handler)
}

func (c *Client) Unbind(event string) {
	c.emitter.Unbind(event)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Connect starts connecting unless an attempt is already in progress.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.wrapper != nil || c.timer != nil {
		c.mu.Unlock()
		return
	}
	c.stopped = false
	c.strategy.Reset()
	c.mu.Unlock()

	c.attempt()
}

// Disconnect stops reconnecting and closes the current connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	w := c.wrapper
	c.mu.Unlock()

	if w != nil {
		w.Close()
		return
	}
	c.setState(StateDisconnected)
}

// SendEvent sends an event on the current connection.
func (c *Client) SendEvent(event string, data interface{}, channel string) error {
	c.mu.Lock()
	w := c.wrapper
	c.mu.Unlock()

	if w == nil || w.State() != core.StateConnected {
		return interfaces.ErrNotConnected
	}
	if !w.SendEvent(event, data, channel) {
		return fmt.Errorf("%w: %s", ErrSendFailed, event)
	}
	return nil
}

func (c *Client) attempt() {
	c.mu.Lock()
	c.timer = nil
	if c.stopped {
		c.mu.Unlock()
		return
	}
	url := c.cfg.URL(c.secure)
	w := core.NewProtocolWrapper(c.factory(url), core.WithLogger(c.logger))
	c.wrapper = w
	c.intent = ""
	c.mu.Unlock()

	c.logger.Info("Connecting", "url", url)
	c.bindWrapper(w)
	for _, observe := range c.observers {
		observe(w)
	}

	c.setState(StateConnecting)
	w.Initialize()
}

func (c *Client) isCurrent(w *core.ProtocolWrapper) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapper == w
}

func (c *Client) bindWrapper(w *core.ProtocolWrapper) {
	w.Bind(core.EventInitialized, func(interface{}) {
		w.Connect()
	})
	w.Bind(core.EventConnected, func(data interface{}) {
		socketID, _ := data.(string)
		c.mu.Lock()
		if c.wrapper != w {
			c.mu.Unlock()
			return
		}
		c.socketID = socketID
		c.strategy.Reset()
		c.mu.Unlock()

		c.setState(StateConnected)
		c.emitter.Emit(EventConnected, socketID)
	})
	w.Bind(core.EventMessage, func(data interface{}) {
		if c.isCurrent(w) {
			c.emitter.Emit(EventMessage, data)
		}
	})
	w.Bind(core.EventPing, func(interface{}) {
		if !w.SendEvent(protocol.EventPong, map[string]interface{}{}, "") {
			c.logger.Warn("Failed to answer ping")
		}
	})
	w.Bind(core.EventError, func(data interface{}) {
		c.logger.Warn("Connection error", "error", data)
		c.emitter.Emit(EventError, data)
	})
	for _, action := range []protocol.Action{
		protocol.ActionBackoff,
		protocol.ActionRefused,
		protocol.ActionRetry,
		protocol.ActionSSLOnly,
	} {
		action := action
		w.Bind(string(action), func(interface{}) {
			c.mu.Lock()
			if c.wrapper == w {
				c.intent = action
			}
			c.mu.Unlock()
		})
	}
	w.Bind(core.EventClosed, func(interface{}) {
		c.onClosed(w)
	})
}

func (c *Client) onClosed(w *core.ProtocolWrapper) {
	c.mu.Lock()
	if c.wrapper != w {
		c.mu.Unlock()
		return
	}
	c.wrapper = nil
	c.socketID = ""
	intent := c.intent
	stopped := c.stopped
	secure := c.secure
	c.mu.Unlock()

	if stopped {
		c.setState(StateDisconnected)
		return
	}

	switch intent {
	case protocol.ActionSSLOnly:
		if secure {
			c.fail()
			return
		}
		c.logger.Info("Server requires TLS, switching to a secure connection")
		c.mu.Lock()
		c.secure = true
		c.mu.Unlock()
		c.schedule(0)
	case protocol.ActionRetry:
		c.schedule(0)
	case protocol.ActionRefused:
		c.fail()
	default:
		c.mu.Lock()
		delay := c.strategy.NextDelay()
		c.mu.Unlock()
		c.setState(StateUnavailable)
		c.schedule(delay)
	}
}

func (c *Client) fail() {
	c.logger.Error("Connection refused, not reconnecting")
	c.setState(StateFailed)
	c.emitter.Emit(EventError, ErrRefused)
}

// schedule runs the next attempt on a timer goroutine, never inside the
// closed handler of the previous wrapper.
func (c *Client) schedule(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.logger.Info("Reconnecting", "delay", delay)
	c.timer = time.AfterFunc(delay, c.attempt)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	if prev == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.logger.Info("State changed", "from", prev, "to", s)
	c.emitter.Emit(EventStateChange, StateChange{Previous: prev, Current: s})
}
