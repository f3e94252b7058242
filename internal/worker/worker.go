package worker

import (
	"context"
	"errors"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// SagaWorker feeds consumed events to the saga orchestrator
type SagaWorker struct {
	bus    broker.EventBus
	saga   *service.SagaOrchestrator
	subs   []broker.Subscription
	logger *zap.Logger
}

// NewSagaWorker subscribes the saga handlers to bus
func NewSagaWorker(bus broker.EventBus, saga *service.SagaOrchestrator) *SagaWorker {
	w := &SagaWorker{
		bus:    bus,
		saga:   saga,
		logger: util.GetLogger(),
	}

	w.subs = append(w.subs,
		bus.Subscribe(models.EventTypeOrderConfirmed, saga.HandleOrderConfirmed),
		bus.Subscribe(models.EventTypePaymentFailed, saga.HandlePaymentFailed),
	)
	return w
}

// Start consumes until ctx is cancelled. In volatile mode handlers already
// run inside Publish and this only waits.
func (w *SagaWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting saga worker")
	err := w.bus.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop unsubscribes the saga handlers
func (w *SagaWorker) Stop() {
	w.logger.Info("Stopping saga worker")
	for _, sub := range w.subs {
		w.bus.Unsubscribe(sub)
	}
	w.subs = nil
}
