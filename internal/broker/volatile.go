package broker

import (
	"context"
	"sync/atomic"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// VolatileBus keeps events in memory and notifies subscribers inside Publish.
// Nothing survives a restart.
type VolatileBus struct {
	registry  *registry
	buffer    *ring
	connected atomic.Bool
	logger    *zap.Logger
}

// NewVolatileBus buffers the last bufferSize events
func NewVolatileBus(bufferSize int) *VolatileBus {
	return &VolatileBus{
		registry: newRegistry(),
		buffer:   newRing(bufferSize),
		logger:   util.GetLogger(),
	}
}

func (b *VolatileBus) Connect(ctx context.Context) error {
	b.connected.Store(true)
	b.logger.Info("Event bus connected", zap.String("mode", ModeVolatile))
	return nil
}

func (b *VolatileBus) Disconnect(ctx context.Context) error {
	b.connected.Store(false)
	return nil
}

func (b *VolatileBus) Publish(ctx context.Context, event models.Event) error {
	if err := validate(event); err != nil {
		return apperror.Validation("%s", err.Error())
	}

	b.buffer.add(event)
	b.registry.countPublished(event.Type)
	util.EventsPublishedTotal.WithLabelValues(string(event.Type), ModeVolatile).Inc()

	b.registry.notify(ctx, event)
	return nil
}

func (b *VolatileBus) Subscribe(eventType models.EventType, handler Handler) Subscription {
	return b.registry.subscribe(eventType, handler)
}

func (b *VolatileBus) Unsubscribe(sub Subscription) {
	b.registry.unsubscribe(sub)
}

func (b *VolatileBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *VolatileBus) Recent(n int) []models.Event {
	return b.buffer.recent(n)
}

func (b *VolatileBus) Lookup(ctx context.Context, id string) (*models.Event, error) {
	if e, ok := b.buffer.find(id); ok {
		return &e, nil
	}
	return nil, apperror.NotFound("event not found: %s", id)
}

func (b *VolatileBus) Stats() Stats {
	s := b.registry.stats()
	s.Mode = ModeVolatile
	s.Transport = "memory"
	s.Connected = b.connected.Load()
	s.BufferedEvents = b.buffer.len()
	return s
}

func (b *VolatileBus) Ping(ctx context.Context) error {
	if !b.connected.Load() {
		return apperror.Transient(nil, "event bus is not connected")
	}
	return nil
}
