// Package events provides the synchronous in-process event bus that carries
// mutation notifications out of the storage backends. Emission happens in the
// mutating caller's execution context, immediately after the underlying write
// commits, so a subscriber that reads back observes a state consistent with
// the event it was handed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event type constants, one per mutating backend operation.
const (
	NodeCreated     = "node:created"
	NodeUpdated     = "node:updated"
	NodeDeleted     = "node:deleted"
	NodePurged      = "node:purged"
	PropertySet     = "property:set"
	PropertyAdded   = "property:added"
	PropertyRemoved = "property:removed"
	SupertagAdded   = "supertag:added"
	SupertagRemoved = "supertag:removed"
)

// Event describes one committed mutation.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	NodeID      string    `json:"node_id"`
	FieldID     string    `json:"field_id,omitempty"`
	SupertagID  string    `json:"supertag_id,omitempty"`
	BeforeValue any       `json:"before_value,omitempty"`
	AfterValue  any       `json:"after_value,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(eventType, nodeID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	}
}

// Filter restricts which events a subscriber receives. A zero Filter matches
// everything; non-empty slices are OR-lists within their dimension.
type Filter struct {
	Types   []string
	NodeIDs []string
}

// matches reports whether the filter admits the event.
func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, e.Type) {
		return false
	}
	if len(f.NodeIDs) > 0 && !contains(f.NodeIDs, e.NodeID) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Callback receives matching events. Callbacks run synchronously on the
// emitting goroutine; a slow callback blocks the mutating call, so
// subscribers must not perform unbounded work.
type Callback func(Event)

type subscriber struct {
	id       uint64
	callback Callback
	filter   Filter
}

// Bus is the in-process pub/sub hub. Subscribers are notified in
// subscription order; emission order for a sequence of operations equals
// call order, with no batching or reordering.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a callback, optionally restricted by filter, and
// returns a function that removes the subscription.
func (b *Bus) Subscribe(callback Callback, filter Filter) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, callback: callback, filter: filter})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every matching subscriber, synchronously,
// in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter.matches(e) {
			s.callback(e)
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
