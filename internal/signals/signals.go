// Package signals carries auth-related change notifications between the
// session store and the components that react to it. Two named events exist:
// StorageChanged fires when another context mutated shared storage, and
// TokenChanged fires when login or logout ran in this same context.
package signals

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Kind names an event channel.
type Kind string

const (
	// StorageChanged reports a shared-storage write made by a different context.
	StorageChanged Kind = "storage-changed"
	// TokenChanged reports a login or logout performed by this context.
	TokenChanged Kind = "token-changed"
)

// Event is a single notification.
type Event struct {
	Kind   Kind      `json:"kind"`
	Keys   []string  `json:"keys,omitempty"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Touches reports whether the event mentions any of the given storage keys.
// Events without keys are treated as touching everything.
func (e Event) Touches(keys ...string) bool {
	if len(e.Keys) == 0 {
		return true
	}
	for _, k := range keys {
		if slices.Contains(e.Keys, k) {
			return true
		}
	}
	return false
}

// Source hands out event subscriptions. The returned channel is closed once ctx is done.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const subscriberBuffer = 16

// Bus is an in-process fan-out of events. A slow subscriber drops events once
// its buffer is full; receivers recompute state from storage on every event,
// so a dropped duplicate loses nothing.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Publish delivers the event to every current subscriber without blocking.
func (b *Bus) Publish(_ context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
