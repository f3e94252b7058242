package broker

import (
	"sync"

	"fulfillment-service/internal/models"
)

// ring keeps the last size events, overwriting the oldest
type ring struct {
	mu     sync.RWMutex
	events []models.Event
	next   int
	full   bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1
	}
	return &ring{events: make([]models.Event, size)}
}

func (r *ring) add(e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.full {
		return len(r.events)
	}
	return r.next
}

// recent returns up to n events, newest first. n <= 0 returns all.
func (r *ring) recent(n int) []models.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.events)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]models.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out
}

func (r *ring) find(id string) (models.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.events {
		if e.ID == id && id != "" {
			return e, true
		}
	}
	return models.Event{}, false
}
