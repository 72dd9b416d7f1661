package events

import (
	"sync"
	"time"
)

// DefaultSubscriberBuffer is the channel buffer for each subscriber.
const DefaultSubscriberBuffer = 256

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, which prevents one slow consumer
// from stalling the orchestrator.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber channel. The caller must
// Unsubscribe when done or the channel leaks.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, DefaultSubscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Safe to call twice.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish delivers ev to all subscribers, filling Timestamp if unset.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
