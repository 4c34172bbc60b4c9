package client

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/pusher-go/config"
	"github.com/lisuiheng/pusher-go/internal/fake"
	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
	"github.com/lisuiheng/pusher-go/protocol"
	"github.com/lisuiheng/pusher-go/utils"
)

const waitTimeout = 2 * time.Second

type attempt struct {
	url       string
	transport *fake.Transport
}

type factory struct {
	attempts chan attempt
}

func newFactory() *factory {
	return &factory{attempts: make(chan attempt, 10)}
}

func (f *factory) create(url string) interfaces.Transport {
	t := fake.NewTransport()
	f.attempts <- attempt{url: url, transport: t}
	return t
}

func (f *factory) next(t *testing.T) attempt {
	t.Helper()
	select {
	case a := <-f.attempts:
		return a
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a connection attempt")
		return attempt{}
	}
}

func (f *factory) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case a := <-f.attempts:
		t.Fatalf("unexpected connection attempt to %s", a.url)
	case <-time.After(within):
	}
}

func testConfig(useTLS bool) config.Config {
	var cfg config.Config
	cfg.App.Key = "key"
	cfg.App.Cluster = "eu"
	cfg.Connection.UseTLS = useTLS
	return cfg
}

func newClient(t *testing.T, useTLS bool) (*Client, *factory) {
	t.Helper()
	f := newFactory()
	c, err := New(testConfig(useTLS), f.create,
		WithStrategy(utils.NewExponentialBackoff(10*time.Millisecond, 20*time.Millisecond)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, f
}

// handshake walks a fake transport from initialized to connected.
func handshake(t *testing.T, a attempt, socketID string) {
	t.Helper()
	initialize(t, a)
	a.transport.EmitConnecting()
	a.transport.EmitOpen()
	a.transport.EmitMessage(`{"event":"pusher:connection_established","data":{"socket_id":"` + socketID + `"}}`)
}

// initialize waits for the client to finish setting up the attempt, then
// signals initialized.
func initialize(t *testing.T, a attempt) {
	t.Helper()
	if !a.transport.WaitInitialized(waitTimeout) {
		t.Fatal("transport was never initialized")
	}
	a.transport.EmitInitialized()
	if a.transport.ConnectCalls != 1 {
		t.Fatalf("transport Connect calls = %d, want 1", a.transport.ConnectCalls)
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func watchStates(c *Client) *stateLog {
	l := &stateLog{}
	c.Bind(EventStateChange, func(data interface{}) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.states = append(l.states, data.(StateChange).Current)
	})
	return l
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestNewValidation(t *testing.T) {
	if _, err := New(testConfig(true), nil); err == nil {
		t.Error("New() with nil factory error = nil, want error")
	}
	if _, err := New(config.Config{}, newFactory().create); err == nil {
		t.Error("New() with empty config error = nil, want error")
	}
}

func TestConnect(t *testing.T) {
	c, f := newClient(t, true)
	states := watchStates(c)
	var connected interface{}
	c.Bind(EventConnected, func(data interface{}) { connected = data })

	c.Connect()
	a := f.next(t)
	if !strings.HasPrefix(a.url, "wss://ws-eu.pusher.com:443/app/key?") {
		t.Errorf("url = %s, want secure cluster url", a.url)
	}
	handshake(t, a, "1.2")

	if connected != "1.2" {
		t.Errorf("connected payload = %v, want %q", connected, "1.2")
	}
	if c.State() != StateConnected || c.SocketID() != "1.2" {
		t.Errorf("State() = %s, SocketID() = %q", c.State(), c.SocketID())
	}
	want := []State{StateConnecting, StateConnected}
	if got := states.get(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("states = %v, want %v", got, want)
	}

	c.Connect()
	f.none(t, 20*time.Millisecond)
}

func TestMessagesAndPong(t *testing.T) {
	c, f := newClient(t, true)
	var got protocol.Envelope
	c.Bind(EventMessage, func(data interface{}) { got = data.(protocol.Envelope) })

	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")

	a.transport.EmitMessage(`{"event":"update","data":{"n":1},"channel":"news"}`)
	if got.Event != "update" || got.Channel != "news" {
		t.Errorf("message = %+v", got)
	}

	a.transport.EmitMessage(`{"event":"pusher:ping","data":{}}`)
	_, sent := a.transport.Calls()
	if len(sent) != 1 || sent[0] != `{"event":"pusher:pong","data":{}}` {
		t.Errorf("sent = %v, want pong", sent)
	}
}

func TestSendEvent(t *testing.T) {
	c, f := newClient(t, true)

	if err := c.SendEvent("client-x", 1, "private-a"); !errors.Is(err, interfaces.ErrNotConnected) {
		t.Errorf("SendEvent() before connect error = %v, want ErrNotConnected", err)
	}

	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")

	if err := c.SendEvent("client-x", 1, "private-a"); err != nil {
		t.Fatalf("SendEvent() error = %v", err)
	}
	a.transport.SetSendResult(false)
	if err := c.SendEvent("client-x", 1, "private-a"); !errors.Is(err, ErrSendFailed) {
		t.Errorf("SendEvent() error = %v, want ErrSendFailed", err)
	}
}

func TestReconnectOnIntent(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		useTLS    bool
		wantState State
		wantTLS   bool
	}{
		{"retry", 4200, true, StateConnecting, true},
		{"backoff", 4100, true, StateConnecting, true},
		{"protocol_error", 1002, false, StateConnecting, false},
		{"ssl_only", 4000, false, StateConnecting, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, f := newClient(t, tc.useTLS)
			c.Connect()
			a := f.next(t)
			handshake(t, a, "1.2")

			a.transport.EmitClosed(&interfaces.CloseInfo{Code: tc.code, Reason: tc.name})
			if c.SocketID() != "" {
				t.Errorf("SocketID() after close = %q, want empty", c.SocketID())
			}

			next := f.next(t)
			if !next.transport.WaitInitialized(waitTimeout) {
				t.Fatal("reconnect transport was never initialized")
			}
			if secure := strings.HasPrefix(next.url, "wss://"); secure != tc.wantTLS {
				t.Errorf("reconnect url = %s, want secure=%v", next.url, tc.wantTLS)
			}
			if c.State() != tc.wantState {
				t.Errorf("State() = %s, want %s", c.State(), tc.wantState)
			}
			handshake(t, next, "3.4")
			if c.SocketID() != "3.4" {
				t.Errorf("SocketID() = %q, want %q", c.SocketID(), "3.4")
			}
		})
	}
}

func TestReconnectAfterPlainClose(t *testing.T) {
	c, f := newClient(t, true)
	states := watchStates(c)
	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")

	a.transport.EmitClosed(nil)
	f.next(t)

	found := false
	for _, s := range states.get() {
		if s == StateUnavailable {
			found = true
		}
	}
	if !found {
		t.Errorf("states = %v, want unavailable before reconnecting", states.get())
	}
}

func TestRefusedStops(t *testing.T) {
	c, f := newClient(t, true)
	errs := make(chan interface{}, 4)
	c.Bind(EventError, func(data interface{}) { errs <- data })

	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")

	a.transport.EmitClosed(&interfaces.CloseInfo{Code: 4001, Reason: "app disabled"})

	if c.State() != StateFailed {
		t.Errorf("State() = %s, want %s", c.State(), StateFailed)
	}
	first := <-errs
	if ee, ok := first.(*protocol.ErrorEvent); !ok || ee.Type != protocol.PusherError {
		t.Errorf("first error = %#v, want PusherError", first)
	}
	if second := <-errs; second != ErrRefused {
		t.Errorf("second error = %v, want ErrRefused", second)
	}
	f.none(t, 50*time.Millisecond)
}

func TestSSLOnlyWhenAlreadySecureFails(t *testing.T) {
	c, f := newClient(t, true)
	c.Connect()
	a := f.next(t)
	initialize(t, a)
	a.transport.EmitConnecting()
	a.transport.EmitOpen()

	a.transport.EmitMessage(`{"event":"pusher:error","data":{"code":4000,"message":"SSL only"}}`)
	if a.transport.CloseCalls != 1 {
		t.Errorf("transport Close calls = %d, want 1", a.transport.CloseCalls)
	}
	a.transport.EmitClosed(nil)

	if c.State() != StateFailed {
		t.Errorf("State() = %s, want %s", c.State(), StateFailed)
	}
	f.none(t, 50*time.Millisecond)
}

func TestDisconnect(t *testing.T) {
	c, f := newClient(t, true)
	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")

	c.Disconnect()
	if a.transport.CloseCalls != 1 {
		t.Errorf("transport Close calls = %d, want 1", a.transport.CloseCalls)
	}
	a.transport.EmitClosed(&interfaces.CloseInfo{Code: 1000})

	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want %s", c.State(), StateDisconnected)
	}
	f.none(t, 50*time.Millisecond)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	f := newFactory()
	c, err := New(testConfig(true), f.create,
		WithStrategy(utils.NewExponentialBackoff(time.Hour, time.Hour)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")
	a.transport.EmitClosed(&interfaces.CloseInfo{Code: 4100})

	if c.State() != StateUnavailable {
		t.Fatalf("State() = %s, want %s", c.State(), StateUnavailable)
	}
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Errorf("State() = %s, want %s", c.State(), StateDisconnected)
	}
}

func TestObserverSeesEveryAttempt(t *testing.T) {
	f := newFactory()
	var mu sync.Mutex
	observed := 0
	c, err := New(testConfig(true), f.create,
		WithObserver(func(b events.Binder) {
			mu.Lock()
			observed++
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c.Connect()
	a := f.next(t)
	handshake(t, a, "1.2")
	a.transport.EmitClosed(&interfaces.CloseInfo{Code: 4200})
	handshake(t, f.next(t), "1.3")

	mu.Lock()
	defer mu.Unlock()
	if observed != 2 {
		t.Errorf("observed wrappers = %d, want 2", observed)
	}
}
