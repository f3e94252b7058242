package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderCreated(orderID string) models.Event {
	return models.NewEvent(&models.OrderCreated{OrderID: orderID, OwnerID: "user-1"}, "order-service", "corr-1")
}

func TestTopicFor(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		want      string
	}{
		{models.EventTypeOrderCreated, "order-events"},
		{models.EventTypeOrderStatusUpdated, "order-events"},
		{models.EventTypeInventoryLowStock, "inventory-events"},
		{models.EventTypePaymentFailed, "payment-events"},
		{"user.registered", "system-events"},
		{"heartbeat", "system-events"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicFor(tt.eventType), string(tt.eventType))
	}
}

func TestVolatileBusNotifiesSynchronously(t *testing.T) {
	bus := NewVolatileBus(10)
	require.NoError(t, bus.Connect(context.Background()))

	var got []string
	bus.Subscribe(models.EventTypeOrderCreated, func(ctx context.Context, e models.Event) error {
		got = append(got, e.Payload.(*models.OrderCreated).OrderID)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), orderCreated("order-1")))
	assert.Equal(t, []string{"order-1"}, got)

	stats := bus.Stats()
	assert.Equal(t, ModeVolatile, stats.Mode)
	assert.True(t, stats.Connected)
	assert.Equal(t, 1, stats.BufferedEvents)
	assert.Equal(t, int64(1), stats.Published["order.created"])
	assert.Equal(t, 1, stats.Subscribers["order.created"])
}

func TestVolatileBusRingKeepsNewest(t *testing.T) {
	bus := NewVolatileBus(3)
	ctx := context.Background()

	var ids []string
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		e := orderCreated(id)
		ids = append(ids, e.ID)
		require.NoError(t, bus.Publish(ctx, e))
	}

	recent := bus.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[2], recent[2].ID)
	assert.Len(t, bus.Recent(2), 2)

	_, err := bus.Lookup(ctx, ids[0])
	assert.True(t, apperror.IsNotFound(err))
	found, err := bus.Lookup(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, ids[3], found.ID)
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	bus := NewVolatileBus(10)
	ctx := context.Background()
	calls := 0

	bus.Subscribe(models.EventTypeOrderCreated, func(context.Context, models.Event) error {
		panic("boom")
	})
	bus.Subscribe(models.EventTypeOrderCreated, func(context.Context, models.Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(models.EventTypeOrderCreated, func(context.Context, models.Event) error {
		calls++
		return nil
	})

	assert.NoError(t, bus.Publish(ctx, orderCreated("order-1")))
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeAndWildcard(t *testing.T) {
	bus := NewVolatileBus(10)
	ctx := context.Background()
	typed, all := 0, 0

	sub := bus.Subscribe(models.EventTypeOrderCreated, func(context.Context, models.Event) error {
		typed++
		return nil
	})
	bus.Subscribe(AllEvents, func(context.Context, models.Event) error {
		all++
		return nil
	})

	require.NoError(t, bus.Publish(ctx, orderCreated("order-1")))
	bus.Unsubscribe(sub)
	require.NoError(t, bus.Publish(ctx, orderCreated("order-2")))
	require.NoError(t, bus.Publish(ctx, models.NewEvent(&models.PaymentFailed{OrderID: "order-2"}, "payment-service", "")))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 3, all)
}

func TestPublishRejectsMalformedEvent(t *testing.T) {
	bus := NewVolatileBus(10)

	err := bus.Publish(context.Background(), models.Event{ID: "x"})
	assert.True(t, apperror.IsValidation(err))
	assert.Zero(t, bus.Stats().BufferedEvents)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []Message
	sendErr error
	inbox   chan Message
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan Message, 16)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.inbox <- msg
	return nil
}

func (f *fakeTransport) Consume(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-f.inbox:
			_ = handle(ctx, msg)
		}
	}
}

func (f *fakeTransport) Ping(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                   { return nil }

func newCache(t *testing.T) *redisclient.Client {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisclient.NewClientFromRedis(rdb, time.Hour, time.Minute)
}

func TestDurableBusRoutesAndDelivers(t *testing.T) {
	transport := newFakeTransport()
	bus := NewDurableBus(transport, newCache(t), 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Connect(ctx))

	received := make(chan models.Event, 1)
	bus.Subscribe(models.EventTypeOrderCreated, func(ctx context.Context, e models.Event) error {
		received <- e
		return nil
	})
	go bus.Run(ctx)

	event := orderCreated("order-1")
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, "corr-1", got.Metadata.CorrelationID)
		assert.Equal(t, "order-1", got.Payload.(*models.OrderCreated).OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "order-events", transport.sent[0].Topic)
	assert.Equal(t, event.ID, transport.sent[0].Key)
	assert.Equal(t, "order.created", transport.sent[0].Headers[headerEventType])

	cached, err := bus.Lookup(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeOrderCreated, cached.Type)
}

func TestDurableBusSwallowsTransportFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.sendErr = errors.New("broker down")
	bus := NewDurableBus(transport, nil, 100)

	err := bus.Publish(context.Background(), orderCreated("order-1"))
	assert.NoError(t, err)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Failed["order.created"])
	assert.Zero(t, stats.Published["order.created"])
}

func TestDurableBusLookupFallsBackToCache(t *testing.T) {
	cache := newCache(t)
	bus := NewDurableBus(newFakeTransport(), cache, 100)
	ctx := context.Background()

	require.NoError(t, cache.CacheEvent(ctx, "evt-9",
		[]byte(`{"id":"evt-9","type":"payment.failed","payload":{"order_id":"o1","reason":"declined"},"timestamp":"2024-01-01T00:00:00Z","metadata":{"correlationId":"c","service":"payment-service"}}`)))

	e, err := bus.Lookup(ctx, "evt-9")
	require.NoError(t, err)
	assert.Equal(t, "declined", e.Payload.(*models.PaymentFailed).Reason)

	_, err = bus.Lookup(ctx, "missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestDurableBusDropsUndecodableMessage(t *testing.T) {
	bus := NewDurableBus(newFakeTransport(), nil, 100)
	called := false
	bus.Subscribe(AllEvents, func(context.Context, models.Event) error {
		called = true
		return nil
	})

	err := bus.deliver(context.Background(), Message{Topic: "order-events", Value: []byte("not json")})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestKafkaMessageHeaders(t *testing.T) {
	msg := Message{
		Topic:   "payment-events",
		Key:     "evt-1",
		Value:   []byte(`{}`),
		Headers: map[string]string{headerEventType: "payment.completed", "traceparent": "00-abc-def-01"},
	}

	back := fromKafkaMessage(toKafkaMessage(msg))
	assert.Equal(t, "payment.completed", back.EventType)
	assert.Equal(t, msg.Headers, back.Headers)
	assert.Equal(t, "evt-1", back.Key)
}
