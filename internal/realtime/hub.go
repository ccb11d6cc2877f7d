package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrLagged closes a subscription that could not keep up. The subscriber
// must re-read current state from the store before subscribing again.
var ErrLagged = errors.New("subscriber lagged behind the delta stream")

// ErrHubClosed ends every subscription when the hub shuts down
var ErrHubClosed = errors.New("delta hub closed")

// Filter selects the deltas a subscriber receives. An empty TripID means
// every trip.
type Filter struct {
	TripID string
}

func (f Filter) matches(d Delta) bool {
	return f.TripID == "" || f.TripID == d.TripID
}

// Subscription is a live feed of deltas. C is closed when the subscription
// ends; Err then reports why.
type Subscription struct {
	C <-chan Delta

	ch     chan Delta
	filter Filter
	hub    *Hub

	mu  sync.Mutex
	err error
}

// Err reports why the subscription ended, or nil while it is live
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.hub.drop(s, nil)
}

// Hub fans committed deltas out to in-process subscribers. Publish never
// blocks: a subscriber whose buffer is full is cut off with ErrLagged.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer deltas
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe(filter Filter) *Subscription {
	ch := make(chan Delta, h.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.err = ErrHubClosed
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish implements Publisher
func (h *Hub) Publish(ctx context.Context, d Delta) {
	var lagged []*Subscription

	h.mu.RLock()
	for sub := range h.subs {
		if !sub.filter.matches(d) {
			continue
		}
		select {
		case sub.ch <- d:
		default:
			lagged = append(lagged, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range lagged {
		h.drop(sub, ErrLagged)
	}
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription with ErrHubClosed
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.end(sub, ErrHubClosed)
	}
}

func (h *Hub) drop(sub *Subscription, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.end(sub, err)
}

// end closes sub once; callers hold h.mu
func (h *Hub) end(sub *Subscription, err error) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
	close(sub.ch)
}
