// realtime/publisher.go
package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Publisher fans entity updates out to logical channels keyed by entity id,
// eg "battle-{id}", "battleparticipant-{id}", "battle-{id}-results". Who may
// subscribe to a channel is an external auth concern.
type Publisher interface {
	Trigger(channel string, event string, payload interface{})
}

// Message is one published event as delivered to a subscriber.
type Message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Hub is an in-process Publisher that fans messages out to subscribed
// channels. The SSE handler bridges subscriptions to clients; tests subscribe
// directly.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Message]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Message]struct{})}
}

// Trigger publishes an event to every subscriber of the channel. Slow
// subscribers are skipped rather than blocking the publishing transaction's
// caller.
func (h *Hub) Trigger(channel string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ [REALTIME] Failed to marshal payload for %s/%s: %v", channel, event, err)
		return
	}

	msg := Message{Channel: channel, Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[channel] {
		select {
		case ch <- msg:
		default:
			log.Printf("⚠️  [REALTIME] Dropping %s event on %s: subscriber not keeping up", event, channel)
		}
	}
}

// Subscribe returns a buffered message channel for the given logical channel
// plus a cancel function that must be called when the subscriber goes away.
func (h *Hub) Subscribe(channel string) (<-chan Message, func()) {
	ch := make(chan Message, 64)

	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[chan Message]struct{})
	}
	h.subs[channel][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[channel]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, channel)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// NopPublisher discards everything. Useful for maintenance scripts that don't
// want to fan updates out.
type NopPublisher struct{}

func (NopPublisher) Trigger(string, string, interface{}) {}
