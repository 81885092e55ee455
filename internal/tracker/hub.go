package tracker

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// UpdateType tells subscribers whether an update replaces or patches their
// view.
type UpdateType string

const (
	UpdateSnapshot UpdateType = "snapshot"
	UpdateDelta    UpdateType = "update"
)

// Update is one message on a subscription.
type Update struct {
	Type    UpdateType `json:"type"`
	Time    time.Time  `json:"time"`
	Devices []Device   `json:"devices"`
}

const subscriberBuffer = 16

// Hub fans updates out to subscribers. A subscriber that falls behind loses
// updates rather than stalling the tracker.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Update
	closed      bool
	dropped     atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Update)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new channel and queues initial on it before any
// published update.
func (h *Hub) Subscribe(initial ...Update) (string, <-chan Update) {
	id := randomID()
	ch := make(chan Update, subscriberBuffer+len(initial))
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	for _, u := range initial {
		ch <- u
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) Publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- u:
		default:
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns the number of updates not delivered to slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close closes all subscriptions. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	h.closed = true
}
