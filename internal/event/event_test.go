package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()

	var first, second []Type
	bus.Subscribe(SinkFunc(func(e Event) { first = append(first, e.Type) }))
	bus.Subscribe(SinkFunc(func(e Event) { second = append(second, e.Type) }))

	bus.Emit(Event{Type: TypeStarted, TaskID: "task_aaa"})
	bus.Emit(Event{Type: TypeReady, TaskID: "task_aaa"})

	assert.Equal(t, []Type{TypeStarted, TypeReady}, first)
	assert.Equal(t, []Type{TypeStarted, TypeReady}, second)
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(SinkFunc(func(e Event) { got = e }))
	bus.Emit(Event{Type: TypeExited})

	assert.False(t, got.Time.IsZero())
}

func TestDiscard(t *testing.T) {
	// Must not panic.
	Discard.Emit(Event{Type: TypeFinalized})
}
