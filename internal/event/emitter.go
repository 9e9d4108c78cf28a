// Package event provides a small in-process publish/subscribe hub. Each
// manager owns its own Emitter, so listener lifetime is scoped to the owning
// component rather than a global bus.
package event

import "sync"

// Handler receives the payload published for an event.
type Handler func(payload any)

type entry struct {
	id int
	fn Handler
}

// Emitter dispatches named events to registered handlers in registration
// order. Removing a handler mid-dispatch does not affect the current
// dispatch pass.
type Emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string][]entry
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]entry)}
}

// On registers a handler for the event and returns a subscription ID usable
// with Off.
func (e *Emitter) On(event string, fn Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[event] = append(e.handlers[event], entry{id: e.nextID, fn: fn})
	return e.nextID
}

// Off removes the subscription with the given ID. Unknown IDs are ignored.
func (e *Emitter) Off(event string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.handlers[event]
	for i, en := range entries {
		if en.id == id {
			e.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit calls every handler currently registered for the event. The handler
// list is snapshotted before the first call.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.Lock()
	entries := make([]entry, len(e.handlers[event]))
	copy(entries, e.handlers[event])
	e.mu.Unlock()

	for _, en := range entries {
		en.fn(payload)
	}
}
