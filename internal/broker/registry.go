package broker

import (
	"context"
	"fmt"
	"sync"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Subscription identifies a registered handler for Unsubscribe
type Subscription struct {
	id        uint64
	eventType models.EventType
}

type subscriber struct {
	id      uint64
	handler Handler
}

// registry is the in-process subscriber table and counter set owned by one bus
type registry struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  map[models.EventType][]subscriber
	published map[string]int64
	delivered map[string]int64
	failed    map[string]int64
	logger    *zap.Logger
}

func newRegistry() *registry {
	return &registry{
		handlers:  make(map[models.EventType][]subscriber),
		published: make(map[string]int64),
		delivered: make(map[string]int64),
		failed:    make(map[string]int64),
		logger:    util.GetLogger(),
	}
}

func (r *registry) subscribe(eventType models.EventType, handler Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[eventType] = append(r.handlers[eventType], subscriber{id: r.nextID, handler: handler})
	return Subscription{id: r.nextID, eventType: eventType}
}

func (r *registry) unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.handlers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			r.handlers[sub.eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(r.handlers[sub.eventType]) == 0 {
		delete(r.handlers, sub.eventType)
	}
}

func (r *registry) countPublished(t models.EventType) {
	r.mu.Lock()
	r.published[string(t)]++
	r.mu.Unlock()
}

func (r *registry) countFailed(t models.EventType) {
	r.mu.Lock()
	r.failed[string(t)]++
	r.mu.Unlock()
}

// notify calls every handler for the event's type and the wildcard handlers,
// in registration order.
func (r *registry) notify(ctx context.Context, event models.Event) {
	r.mu.Lock()
	r.delivered[string(event.Type)]++
	subs := make([]subscriber, 0, len(r.handlers[event.Type])+len(r.handlers[AllEvents]))
	subs = append(subs, r.handlers[event.Type]...)
	subs = append(subs, r.handlers[AllEvents]...)
	r.mu.Unlock()

	util.EventsDeliveredTotal.WithLabelValues(string(event.Type)).Inc()

	for _, s := range subs {
		if err := r.call(ctx, s.handler, event); err != nil {
			util.EventHandlerErrors.WithLabelValues(string(event.Type)).Inc()
			r.logger.Error("Event handler failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

func (r *registry) call(ctx context.Context, h Handler, event models.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return h(ctx, event)
}

func (r *registry) stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Subscribers: make(map[string]int, len(r.handlers)),
		Published:   copyCounts(r.published),
		Delivered:   copyCounts(r.delivered),
		Failed:      copyCounts(r.failed),
	}
	for t, subs := range r.handlers {
		s.Subscribers[string(t)] = len(subs)
	}
	return s
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
