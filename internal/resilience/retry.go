package resilience

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retrier retries idempotent calls with exponential backoff: base, 2*base,
// 4*base, ... up to MaxRetries retries after the first attempt. Only
// transient errors are retried. With the defaults (1s base, 3 retries) a call
// makes at most 4 attempts, waiting 1s, 2s and 4s between them.
type Retrier struct {
	name       string
	base       time.Duration
	maxRetries int
	logger     *zap.Logger
}

// NewRetrier creates a retrier for the named operation.
func NewRetrier(name string, base time.Duration, maxRetries int) *Retrier {
	return &Retrier{
		name:       name,
		base:       base,
		maxRetries: maxRetries,
		logger:     util.GetLogger(),
	}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return apperror.IsTransient(err)
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.base << uint(r.maxRetries)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxRetries)), ctx)
}

// Do calls fn until it succeeds, returns a non-retryable error, the retry
// budget is spent, or ctx is done.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		util.RetryAttemptsTotal.WithLabelValues(r.name).Inc()
		r.logger.Warn("Retrying call",
			zap.String("operation", r.name),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(op, r.backOff(ctx), notify)
}
