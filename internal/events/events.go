// Package events carries the in-process event stream from the executor to
// its observers: the websocket hub and tests.
package events

import "sync"

// Event types emitted over the executor lifecycle.
const (
	ExecutorStarted = "started"
	ExecutorStopped = "stopped"
	ExecutorPaused  = "paused"
	ExecutorResumed = "resumed"
	TaskStart       = "taskStart"
	TaskComplete    = "taskComplete"
	TaskFailed      = "taskFailed"
)

// Event is one executor occurrence. Task fields are set where the type
// warrants them; lifecycle events carry only the type.
type Event struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id,omitempty"`
	Model  string `json:"model,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Listener receives emitted events. Listeners run synchronously on the
// emitting goroutine and must not block.
type Listener func(Event)

// Emitter fans events out to registered listeners. Functions cannot be
// compared in Go, so Subscribe hands back a removal closure keyed by id.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewEmitter returns an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is harmless.
func (e *Emitter) Subscribe(l Listener) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Emit delivers the event to a snapshot of the current listeners, so a
// listener unsubscribing mid-delivery never mutates the iteration.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	snapshot := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		snapshot = append(snapshot, l)
	}
	e.mu.RUnlock()

	for _, l := range snapshot {
		l(ev)
	}
}
