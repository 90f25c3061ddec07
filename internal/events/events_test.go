package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishInvokesSubscribers(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(func(_ context.Context, e Event) {
		received = append(received, e)
	})

	bus.Publish(context.Background(), Event{
		Type:    TypeServerCreated,
		Servers: []string{"relay-1"},
		Message: "Server \"relay-1\" is ready",
	})

	require.Len(t, received, 1)
	assert.Equal(t, TypeServerCreated, received[0].Type)
	assert.False(t, received[0].At.IsZero())
}

func TestBusDrainClearsRing(t *testing.T) {
	bus := NewBus()
	bus.Publish(context.Background(), Event{Type: TypeServerRemoved, Message: "gone"})
	bus.Publish(context.Background(), Event{Type: TypeServerDeleted, Message: "deleted"})

	drained := bus.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, TypeServerRemoved, drained[0].Type)

	assert.Empty(t, bus.Drain())
}

func TestBusRingIsBounded(t *testing.T) {
	bus := NewBus()
	for i := 0; i < ringSize+10; i++ {
		bus.Publish(context.Background(), Event{
			Type:    TypeServerCreated,
			Message: fmt.Sprintf("event %d", i),
		})
	}

	drained := bus.Drain()
	require.Len(t, drained, ringSize)
	// Oldest entries are dropped first.
	assert.Equal(t, "event 10", drained[0].Message)
}
