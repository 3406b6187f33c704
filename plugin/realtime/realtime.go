// Package realtime is the push-transport boundary of the streaming core:
// channel-addressed, fire-and-forget event delivery to currently connected
// subscribers. The core publishes and never awaits acknowledgement.
package realtime

import (
	"log/slog"
	"sync"
)

// Event is one published event as seen by a subscriber.
type Event struct {
	Channel string
	Name    string
	Payload any
}

// Publisher delivers events to all current subscribers of a channel with
// at-most-once semantics. Implementations must be safe for concurrent use
// and must not block the caller.
type Publisher interface {
	Publish(channel, event string, payload any)
}

const subscriberBuffer = 64

// Hub is the in-process Publisher: per-channel fanout to subscriber
// channels. Sends are non-blocking; events to a full subscriber are dropped
// rather than stalling the streaming pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]chan Event
	nextID int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[int64]chan Event{}}
}

// Subscribe registers a subscriber for a channel. The returned cancel
// function removes the subscription and closes the event channel.
func (h *Hub) Subscribe(channel string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Event, subscriberBuffer)
	if h.subs[channel] == nil {
		h.subs[channel] = map[int64]chan Event{}
	}
	h.subs[channel][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[channel][id]; ok {
			delete(h.subs[channel], id)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans the event out to every current subscriber of the channel.
func (h *Hub) Publish(channel, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[channel] {
		select {
		case ch <- Event{Channel: channel, Name: event, Payload: payload}:
		default:
			slog.Debug("dropping realtime event for slow subscriber", "channel", channel, "event", event)
		}
	}
}
