package realtime

import (
	"context"
	"sync"
)

// VersionFilter drops deltas that are not newer than the last one seen for
// the same seat or booking. Receivers use it to ignore duplicates from
// redelivery and copies that arrive out of order.
type VersionFilter struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewVersionFilter() *VersionFilter {
	return &VersionFilter{last: make(map[string]int64)}
}

// Accept reports whether d is newer than anything seen for its key, and
// records it if so
func (f *VersionFilter) Accept(d Delta) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := d.Key()
	if v, ok := f.last[key]; ok && d.Version <= v {
		return false
	}
	f.last[key] = d.Version
	return true
}

// Reset forgets every version, typically after a full re-fetch
func (f *VersionFilter) Reset() {
	f.mu.Lock()
	f.last = make(map[string]int64)
	f.mu.Unlock()
}

// Filtered wraps next so it only sees accepted deltas
func (f *VersionFilter) Filtered(next Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, d Delta) {
		if f.Accept(d) {
			next.Publish(ctx, d)
		}
	})
}
