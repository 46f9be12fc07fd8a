// Package live provides the account-scoped live-update channel. The
// actual transport (websocket, SSE) is a collaborator; this package
// defines the publish contract and an in-process hub implementation.
package live

import (
	"sync"
	"time"
)

// Event is one live update pushed to interested consumers
type Event struct {
	AccountID  uint      `json:"account_id"`
	EmailID    uint      `json:"email_id"`
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Date       time.Time `json:"date"`
}

// Publisher pushes events to the live-update channel for one account
// scope. Publish is fire-and-forget: it never blocks the pipeline.
type Publisher interface {
	Publish(event Event)
}

// Hub is an in-process Publisher fanning events out to subscribers by
// account scope. Safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint][]chan Event
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[uint][]chan Event)}
}

// Subscribe registers a consumer for one account scope. The returned
// cancel function removes the subscription and closes the channel.
func (h *Hub) Subscribe(accountID uint) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[accountID] = append(h.subs[accountID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		channels := h.subs[accountID]
		for i, c := range channels {
			if c == ch {
				h.subs[accountID] = append(channels[:i], channels[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its account scope.
// Slow consumers are skipped rather than blocked on.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[event.AccountID] {
		select {
		case ch <- event:
		default:
		}
	}
}
