package resilience

import (
	"sync"
	"time"
)

type bucket struct {
	start     int64
	successes int
	failures  int
}

// rollingWindow counts call outcomes over the last window, split into
// equal-width buckets that expire one at a time.
type rollingWindow struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []bucket
	now     func() time.Time
}

func newRollingWindow(window time.Duration, buckets int, now func() time.Time) *rollingWindow {
	if buckets <= 0 {
		buckets = 1
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	return &rollingWindow{
		width:   width,
		buckets: make([]bucket, buckets),
		now:     now,
	}
}

func (w *rollingWindow) current() *bucket {
	start := w.now().UnixNano() / int64(w.width)
	b := &w.buckets[start%int64(len(w.buckets))]
	if b.start != start {
		*b = bucket{start: start}
	}
	return b
}

func (w *rollingWindow) record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.current()
	if success {
		b.successes++
	} else {
		b.failures++
	}
}

// totals returns call and failure counts for buckets still inside the window.
func (w *rollingWindow) totals() (total, failures int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldest := w.now().UnixNano()/int64(w.width) - int64(len(w.buckets)) + 1
	for _, b := range w.buckets {
		if b.start < oldest {
			continue
		}
		total += b.successes + b.failures
		failures += b.failures
	}
	return total, failures
}

func (w *rollingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}
