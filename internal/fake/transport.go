// Package fake provides a scriptable Transport for tests. Nothing happens on
// its own: tests drive lifecycle signals explicitly with Emit helpers.
package fake

import (
	"sync"
	"time"

	"github.com/lisuiheng/pusher-go/pkg/events"
	"github.com/lisuiheng/pusher-go/pkg/interfaces"
)

var _ interfaces.Transport = (*Transport)(nil)

type Transport struct {
	*events.Dispatcher

	mu          sync.Mutex
	state       interfaces.TransportState
	sendResult  bool
	pingSupport bool
	initialized chan struct{}

	InitializeCalls int
	ConnectCalls    int
	CloseCalls      int
	Sent            []string
}

func NewTransport() *Transport {
	return &Transport{
		Dispatcher:  events.NewDispatcher(),
		state:       interfaces.TransportNew,
		sendResult:  true,
		initialized: make(chan struct{}),
	}
}

func (t *Transport) Initialize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.InitializeCalls++
	if t.InitializeCalls == 1 {
		close(t.initialized)
	}
}

// WaitInitialized reports whether Initialize was called within timeout.
func (t *Transport) WaitInitialized(timeout time.Duration) bool {
	select {
	case <-t.initialized:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (t *Transport) Connect() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ConnectCalls++
	return true
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCalls++
}

func (t *Transport) Send(data string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sent = append(t.Sent, data)
	return t.sendResult
}

func (t *Transport) SupportsPing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pingSupport
}

func (t *Transport) State() interfaces.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) SetSendResult(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendResult = ok
}

func (t *Transport) SetSupportsPing(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pingSupport = ok
}

// Calls returns the close count and a copy of sent frames.
func (t *Transport) Calls() (closes int, sent []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CloseCalls, append([]string(nil), t.Sent...)
}

func (t *Transport) setState(s interfaces.TransportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transport) EmitInitialized() {
	t.setState(interfaces.TransportInitialized)
	t.Emit(interfaces.EventInitialized, nil)
}

func (t *Transport) EmitConnecting() {
	t.setState(interfaces.TransportConnecting)
	t.Emit(interfaces.EventConnecting, nil)
}

func (t *Transport) EmitOpen() {
	t.setState(interfaces.TransportOpen)
	t.Emit(interfaces.EventOpen, nil)
}

// EmitMessage delivers a text frame.
func (t *Transport) EmitMessage(frame string) {
	t.Emit(interfaces.EventMessage, interfaces.Message{Payload: []byte(frame), Type: interfaces.MsgText})
}

// EmitClosed delivers a close; info may be nil.
func (t *Transport) EmitClosed(info *interfaces.CloseInfo) {
	t.setState(interfaces.TransportClosed)
	t.Emit(interfaces.EventClosed, info)
}

func (t *Transport) EmitError(err error) {
	t.Emit(interfaces.EventError, err)
}

func (t *Transport) EmitPingRequest() {
	t.Emit(interfaces.EventPingRequest, nil)
}

// Open walks the transport through initialized, connecting and open.
func (t *Transport) Open() {
	t.EmitInitialized()
	t.EmitConnecting()
	t.EmitOpen()
}
