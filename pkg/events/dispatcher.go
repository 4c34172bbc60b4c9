// pkg/events/dispatcher.go
package events

import "sync"

// Handler receives the payload of an emitted event. The concrete payload
// type is defined by whoever emits the event.
type Handler func(data interface{})

// Binder is the subscribe side of an emitter.
type Binder interface {
	Bind(event string, handler Handler)
	Unbind(event string)
}

// Dispatcher is an ordered, synchronous, multi-subscriber event emitter.
// Handlers run on the emitting goroutine in the order they were bound.
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks map[string][]Handler
	global    []func(event string, data interface{})
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		callbacks: make(map[string][]Handler),
	}
}

// Bind appends handler to the subscribers of event.
func (d *Dispatcher) Bind(event string, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks[event] = append(d.callbacks[event], handler)
}

// BindGlobal subscribes to every event; global handlers run after the
// event's own handlers.
func (d *Dispatcher) BindGlobal(handler func(event string, data interface{})) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.global = append(d.global, handler)
}

// Unbind removes every handler bound to event.
func (d *Dispatcher) Unbind(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.callbacks, event)
}

// UnbindAll drops all subscribers, global ones included.
func (d *Dispatcher) UnbindAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = make(map[string][]Handler)
	d.global = nil
}

// Emit calls the handlers of event synchronously. The subscriber list is
// snapshotted first, so handlers may bind or unbind while being dispatched.
func (d *Dispatcher) Emit(event string, data interface{}) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.callbacks[event]...)
	global := append([]func(string, interface{}){}, d.global...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
	for _, handler := range global {
		handler(event, data)
	}
}

// Len reports how many handlers are bound to event.
func (d *Dispatcher) Len(event string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.callbacks[event])
}
