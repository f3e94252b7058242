package resilience

import (
	"context"
	"sync/atomic"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/util"

	"golang.org/x/sync/semaphore"
)

// Bulkhead caps concurrent calls to one dependency. Callers beyond the cap
// wait in a bounded queue; callers beyond the queue are rejected.
type Bulkhead struct {
	name     string
	sem      *semaphore.Weighted
	maxQueue int64
	waiting  atomic.Int64
	active   atomic.Int64
}

// NewBulkhead allows maxConcurrent in-flight calls and maxQueue waiters.
func NewBulkhead(name string, maxConcurrent, maxQueue int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Bulkhead{
		name:     name,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		maxQueue: int64(maxQueue),
	}
}

// Execute runs fn once a slot is free.
func (b *Bulkhead) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.sem.TryAcquire(1) {
		if b.waiting.Add(1) > b.maxQueue {
			b.waiting.Add(-1)
			util.BulkheadRejections.WithLabelValues(b.name).Inc()
			return apperror.Transient(nil, "%s bulkhead is full", b.name)
		}
		err := b.sem.Acquire(ctx, 1)
		b.waiting.Add(-1)
		if err != nil {
			return apperror.Transient(err, "%s bulkhead wait aborted", b.name)
		}
	}
	defer b.sem.Release(1)

	b.active.Add(1)
	defer b.active.Add(-1)

	return fn(ctx)
}

// InFlight returns the number of calls currently running.
func (b *Bulkhead) InFlight() int {
	return int(b.active.Load())
}

// Waiting returns the number of queued callers.
func (b *Bulkhead) Waiting() int {
	return int(b.waiting.Load())
}
