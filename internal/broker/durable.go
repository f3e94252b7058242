package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Message is the broker-neutral form of an encoded event
type Message struct {
	Topic     string
	Key       string
	EventType string
	Value     []byte
	Headers   map[string]string
}

// Transport moves messages through an external broker
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	// Consume blocks, passing each received message to handle, until ctx is done.
	Consume(ctx context.Context, handle func(ctx context.Context, msg Message) error) error
	Ping(ctx context.Context) error
	Close() error
}

// EventCache keeps recently consumed events by id
type EventCache interface {
	CacheEvent(ctx context.Context, id string, data []byte) error
	GetCachedEvent(ctx context.Context, id string) ([]byte, error)
}

const (
	headerEventType   = "event-type"
	headerCorrelation = "correlation-id"
)

// DurableBus publishes through a broker transport and notifies local
// subscribers as messages are consumed back. Delivery is at-least-once.
type DurableBus struct {
	transport Transport
	cache     EventCache
	registry  *registry
	buffer    *ring
	connected atomic.Bool
	logger    *zap.Logger
}

// NewDurableBus creates a bus over transport. cache may be nil.
func NewDurableBus(transport Transport, cache EventCache, bufferSize int) *DurableBus {
	return &DurableBus{
		transport: transport,
		cache:     cache,
		registry:  newRegistry(),
		buffer:    newRing(bufferSize),
		logger:    util.GetLogger(),
	}
}

func (b *DurableBus) Connect(ctx context.Context) error {
	if err := b.transport.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect event bus: %w", err)
	}
	b.connected.Store(true)
	b.logger.Info("Event bus connected",
		zap.String("mode", ModeDurable),
		zap.String("transport", b.transport.Name()))
	return nil
}

func (b *DurableBus) Disconnect(ctx context.Context) error {
	b.connected.Store(false)
	return b.transport.Close()
}

// Publish sends the event to its topic. Broker failures are swallowed so the
// caller's operation is never aborted by event delivery.
func (b *DurableBus) Publish(ctx context.Context, event models.Event) error {
	if err := validate(event); err != nil {
		return apperror.Validation("%s", err.Error())
	}

	data, err := json.Marshal(event)
	if err != nil {
		return apperror.Validation("failed to encode event %s: %v", event.ID, err)
	}

	headers := map[string]string{
		headerEventType:   string(event.Type),
		headerCorrelation: event.Metadata.CorrelationID,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	msg := Message{
		Topic:     TopicFor(event.Type),
		Key:       event.ID,
		EventType: string(event.Type),
		Value:     data,
		Headers:   headers,
	}

	if err := b.transport.Send(ctx, msg); err != nil {
		b.registry.countFailed(event.Type)
		util.EventPublishFailures.WithLabelValues(string(event.Type)).Inc()
		b.logger.Error("Failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil
	}

	b.registry.countPublished(event.Type)
	util.EventsPublishedTotal.WithLabelValues(string(event.Type), ModeDurable).Inc()
	return nil
}

func (b *DurableBus) Subscribe(eventType models.EventType, handler Handler) Subscription {
	return b.registry.subscribe(eventType, handler)
}

func (b *DurableBus) Unsubscribe(sub Subscription) {
	b.registry.unsubscribe(sub)
}

// Run consumes from the broker and delivers to local subscribers
func (b *DurableBus) Run(ctx context.Context) error {
	return b.transport.Consume(ctx, b.deliver)
}

func (b *DurableBus) deliver(ctx context.Context, msg Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))

	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		b.logger.Error("Dropping undecodable message",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}

	ctx, span := util.StartSpan(ctx, "EventBus.deliver")
	defer span.End()

	if event.Metadata.CorrelationID != "" {
		ctx = util.WithCorrelationID(ctx, event.Metadata.CorrelationID)
	}

	if b.cache != nil {
		if err := b.cache.CacheEvent(ctx, event.ID, msg.Value); err != nil {
			b.logger.Warn("Failed to cache event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	b.buffer.add(event)
	b.registry.notify(ctx, event)
	return nil
}

func (b *DurableBus) Recent(n int) []models.Event {
	return b.buffer.recent(n)
}

// Lookup checks recently delivered events, then the event cache
func (b *DurableBus) Lookup(ctx context.Context, id string) (*models.Event, error) {
	if e, ok := b.buffer.find(id); ok {
		return &e, nil
	}
	if b.cache == nil {
		return nil, apperror.NotFound("event not found: %s", id)
	}

	data, err := b.cache.GetCachedEvent(ctx, id)
	if err != nil {
		return nil, apperror.Transient(err, "event cache unavailable")
	}
	if data == nil {
		return nil, apperror.NotFound("event not found: %s", id)
	}

	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode cached event %s: %w", id, err)
	}
	return &event, nil
}

func (b *DurableBus) Stats() Stats {
	s := b.registry.stats()
	s.Mode = ModeDurable
	s.Transport = b.transport.Name()
	s.Connected = b.connected.Load()
	s.BufferedEvents = b.buffer.len()
	return s
}

func (b *DurableBus) Ping(ctx context.Context) error {
	return b.transport.Ping(ctx)
}
