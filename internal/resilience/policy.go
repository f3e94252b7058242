package resilience

import (
	"context"
	"time"
)

type PolicyConfig struct {
	Breaker        BreakerSettings
	RetryBaseDelay time.Duration
	MaxRetries     int
	BulkheadSize   int
	BulkheadQueue  int
}

// Policy bundles the wrappers applied to calls against one dependency:
// bulkhead outermost, then the circuit breaker, with retry added for
// idempotent calls.
type Policy struct {
	Breaker  *CircuitBreaker
	Bulkhead *Bulkhead
	Retrier  *Retrier
}

func NewPolicy(cfg PolicyConfig) *Policy {
	name := cfg.Breaker.Name
	return &Policy{
		Breaker:  NewCircuitBreaker(cfg.Breaker),
		Bulkhead: NewBulkhead(name, cfg.BulkheadSize, cfg.BulkheadQueue),
		Retrier:  NewRetrier(name, cfg.RetryBaseDelay, cfg.MaxRetries),
	}
}

// Call runs a non-idempotent call once.
func (p *Policy) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.Bulkhead.Execute(ctx, func(ctx context.Context) error {
		return p.Breaker.Execute(ctx, fn)
	})
}

// CallIdempotent retries transient failures, each attempt going through the
// bulkhead and breaker.
func (p *Policy) CallIdempotent(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.Retrier.Do(ctx, func(ctx context.Context) error {
		return p.Call(ctx, fn)
	})
}
