package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator reacts to consumed events that advance an order's saga
type SagaOrchestrator struct {
	events      EventLog
	payments    *PaymentService
	autoPayment bool
	logger      *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator. With autoPayment
// off, payments are only created through explicit calls.
func NewSagaOrchestrator(events EventLog, payments *PaymentService, autoPayment bool) *SagaOrchestrator {
	return &SagaOrchestrator{
		events:      events,
		payments:    payments,
		autoPayment: autoPayment,
		logger:      util.GetLogger(),
	}
}

func (so *SagaOrchestrator) alreadyProcessed(ctx context.Context, event models.Event) (bool, error) {
	processed, err := so.events.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", event.ID))
	}
	return processed, nil
}

func (so *SagaOrchestrator) markProcessed(ctx context.Context, event models.Event) {
	if _, err := so.events.MarkEventProcessed(ctx, event.ID, string(event.Type)); err != nil {
		so.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// HandleOrderConfirmed starts payment for a confirmed order. On the volatile
// bus it runs inside the publish of order.confirmed, so the status update
// that confirmed the order waits for the gateway to answer. The payment
// outcome is still recorded if that caller goes away mid-charge.
func (so *SagaOrchestrator) HandleOrderConfirmed(ctx context.Context, event models.Event) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandleOrderConfirmed")
	defer span.End()

	if !so.autoPayment {
		return nil
	}

	confirmed, ok := event.Payload.(*models.OrderConfirmed)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	processed, err := so.alreadyProcessed(ctx, event)
	if err != nil || processed {
		return err
	}

	so.logger.Info("Starting payment for confirmed order",
		zap.String("order_id", confirmed.OrderID),
		zap.String("amount", confirmed.TotalAmount.String()))

	p, err := so.payments.CreatePayment(ctx, &CreatePaymentRequest{
		OrderID: confirmed.OrderID,
		OwnerID: confirmed.OwnerID,
		Amount:  confirmed.TotalAmount,
	})
	if apperror.IsConflict(err) {
		so.logger.Info("Order already paid or being paid", zap.String("order_id", confirmed.OrderID))
	} else if err != nil {
		return fmt.Errorf("failed to create payment for order %s: %w", confirmed.OrderID, err)
	} else {
		so.logger.Info("Payment finished",
			zap.String("order_id", confirmed.OrderID),
			zap.String("payment_id", p.ID),
			zap.String("status", string(p.Status)))
	}

	so.markProcessed(ctx, event)
	return nil
}

// HandlePaymentFailed records the failure. The order and its reservation are
// left as they are for manual follow-up; no compensation runs here.
func (so *SagaOrchestrator) HandlePaymentFailed(ctx context.Context, event models.Event) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentFailed")
	defer span.End()

	failed, ok := event.Payload.(*models.PaymentFailed)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}

	processed, err := so.alreadyProcessed(ctx, event)
	if err != nil || processed {
		return err
	}

	util.OrdersFailedTotal.WithLabelValues("payment_failed").Inc()
	so.logger.Warn("Payment failed for order, awaiting manual action",
		zap.String("order_id", failed.OrderID),
		zap.String("payment_id", failed.PaymentID),
		zap.String("reason", failed.Reason))

	so.markProcessed(ctx, event)
	return nil
}
