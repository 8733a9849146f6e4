// Package events delivers transient gateway notifications (mode changes,
// sync outcomes, account errors) to registered listeners. Events are never
// persisted; a listener that was not subscribed at emission time never
// sees the event.
package events

import (
	"strings"
	"sync"
	"time"
)

// Event types emitted by the gateway
const (
	TypeModeChanged      = "webhook.mode_changed"
	TypeSyncTriggered    = "sync.triggered"
	TypeSyncFailed       = "sync.failed"
	TypeAccountError     = "account.error"
	TypeTransactionEmail = "transaction.email"
)

// Event is a transient notification
type Event struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// Listener receives events matching its subscription pattern.
// Listeners run synchronously on the emitter's goroutine and must not block.
type Listener func(Event)

/* Bus is a process-local listener registry
 * Patterns match exactly or by prefix wildcard: "sync.*" matches
 * "sync.failed" and "sync.triggered"
 */
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]subscription
}

type subscription struct {
	pattern  string
	listener Listener
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]subscription)}
}

// Subscribe registers a listener for the pattern and returns an
// unsubscribe function
func (b *Bus) Subscribe(pattern string, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = subscription{pattern: pattern, listener: listener}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Emit delivers the event to every matching listener.
// Matching listeners are snapshotted before delivery so a listener may
// subscribe or unsubscribe without deadlocking the bus.
func (b *Bus) Emit(eventType string, payload map[string]any) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	var matching []Listener
	for _, sub := range b.listeners {
		if matches(sub.pattern, eventType) {
			matching = append(matching, sub.listener)
		}
	}
	b.mu.RUnlock()

	for _, listener := range matching {
		listener(event)
	}
}

// matches checks exact and prefix-wildcard patterns
func matches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}
	return false
}
