// Package events provides the in-process notification bus. User-visible
// notices (server removed by the reconciler, creation finished or failed)
// flow through here; the API drains a bounded ring of recent notifications.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/outpost-vpn/outpost/internal/logger"
)

// Type identifies a notification kind.
type Type string

const (
	// TypeServerCreated is emitted when a creation reaches READY.
	TypeServerCreated Type = "server_created"
	// TypeServerCreateFailed is emitted when a creation fails terminally.
	TypeServerCreateFailed Type = "server_create_failed"
	// TypeServerRemoved is emitted when the reconciler drops orphaned
	// display records; Servers names the removed servers.
	TypeServerRemoved Type = "server_removed"
	// TypeServerDeleted is emitted after an explicit user deletion.
	TypeServerDeleted Type = "server_deleted"
)

// Event is a user-visible notification.
type Event struct {
	Type     Type      `json:"type"`
	Provider string    `json:"provider,omitempty"`
	Servers  []string  `json:"servers,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Handler processes a published event.
type Handler func(context.Context, Event)

// ringSize bounds how many notifications are retained for API draining.
const ringSize = 100

// Bus fans events out to subscribed handlers and retains the most recent
// ones for polling consumers.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	recent   []Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish records the event and invokes handlers synchronously. Handlers are
// expected to be quick; anything slow should hand off internally.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > ringSize {
		b.recent = b.recent[len(b.recent)-ringSize:]
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	logger.InfoWithFields("notification", map[string]interface{}{
		"type":    string(e.Type),
		"message": e.Message,
	})
	for _, h := range handlers {
		h(ctx, e)
	}
}

// Drain returns all retained notifications and clears the ring.
func (b *Bus) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.recent
	b.recent = nil
	return out
}
