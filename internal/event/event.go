// Package event carries run lifecycle notifications to presentation
// collaborators (CLI output, UIs, log renderers). Emission is fire and
// forget; nothing in the orchestration core depends on a listener.
package event

import (
	"sync"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	// TypeStarted fires when the task's container has been started.
	TypeStarted Type = "started"
	// TypeReady fires when the container reached the running state.
	TypeReady Type = "ready"
	// TypeExited fires when an exit has been observed, from any source.
	TypeExited Type = "exited"
	// TypeFinalized fires after artifact collection and cleanup finish.
	TypeFinalized Type = "finalized"
)

// Event is one lifecycle notification.
type Event struct {
	Type          Type
	TaskID        string
	ContainerName string
	// ExitCode is meaningful for TypeExited.
	ExitCode int
	Time     time.Time
}

// Sink receives events. Implementations must not block: they are called
// inline from lifecycle code.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Bus fans events out to multiple sinks.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit delivers the event to every subscribed sink.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		s.Emit(e)
	}
}
