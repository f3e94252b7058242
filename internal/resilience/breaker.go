package resilience

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/util"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures a CircuitBreaker. The circuit opens once the
// failure ratio over Window reaches ErrorThreshold with at least
// VolumeThreshold calls recorded, stays open for Cooldown, then lets a single
// probe through.
type BreakerSettings struct {
	Name            string
	Window          time.Duration
	Buckets         int
	ErrorThreshold  float64
	VolumeThreshold int
	Timeout         time.Duration
	Cooldown        time.Duration
}

// DefaultBreakerSettings returns a 10s/10-bucket window, 50% threshold,
// 5s call timeout and 30s cooldown.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:            name,
		Window:          10 * time.Second,
		Buckets:         10,
		ErrorThreshold:  0.5,
		VolumeThreshold: 5,
		Timeout:         5 * time.Second,
		Cooldown:        30 * time.Second,
	}
}

// CircuitBreaker wraps outbound calls with a per-call timeout and a
// gobreaker state machine driven by a rolling error-rate window.
type CircuitBreaker struct {
	name    string
	timeout time.Duration
	window  *rollingWindow
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCircuitBreaker creates a breaker from settings.
func NewCircuitBreaker(s BreakerSettings) *CircuitBreaker {
	return newCircuitBreaker(s, time.Now)
}

func newCircuitBreaker(s BreakerSettings, now func() time.Time) *CircuitBreaker {
	b := &CircuitBreaker{
		name:    s.Name,
		timeout: s.Timeout,
		window:  newRollingWindow(s.Window, s.Buckets, now),
		logger:  util.GetLogger(),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(gobreaker.Counts) bool {
			total, failures := b.window.totals()
			if total == 0 || total < s.VolumeThreshold {
				return false
			}
			return float64(failures)/float64(total) >= s.ErrorThreshold
		},
		IsSuccessful: func(err error) bool {
			ok := !countsAsFailure(err)
			b.window.record(ok)
			return ok
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				b.window.reset()
			}
			util.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			b.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	util.CircuitBreakerState.WithLabelValues(s.Name).Set(float64(gobreaker.StateClosed))

	return b
}

// countsAsFailure separates dependency failures from answers the dependency
// gave correctly (validation, conflict, not found) and from caller cancellation.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch apperror.CodeOf(err) {
	case apperror.CodeValidation, apperror.CodeConflict, apperror.CodeNotFound:
		return false
	}
	return true
}

// Execute runs fn under the breaker with the per-call timeout applied to ctx.
// Open-circuit rejections and timeouts are returned as transient errors.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, apperror.Transient(err, "%s call timed out after %s", b.name, b.timeout)
		}
		return nil, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		util.CircuitBreakerRejections.WithLabelValues(b.name).Inc()
		return apperror.Transient(err, "%s circuit is %s", b.name, b.cb.State())
	}
	return err
}

// State returns "closed", "half-open" or "open".
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string {
	return b.name
}
