package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChargeResult is the gateway's answer. A decline is not an error.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	Reason        string
}

// Gateway charges a payment. Errors mean the gateway could not be reached.
type Gateway interface {
	Charge(ctx context.Context, p *models.Payment) (*ChargeResult, error)
}

// SimulatedGateway approves a fixed share of charges after a random delay
type SimulatedGateway struct {
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedGateway(successRate float64, minLatency, maxLatency time.Duration) *SimulatedGateway {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &SimulatedGateway{
		successRate: successRate,
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, p *models.Payment) (*ChargeResult, error) {
	g.mu.Lock()
	delay := g.minLatency
	if span := g.maxLatency - g.minLatency; span > 0 {
		delay += time.Duration(g.rnd.Int63n(int64(span)))
	}
	approved := g.rnd.Float64() < g.successRate
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, apperror.Transient(ctx.Err(), "payment gateway timed out")
	case <-time.After(delay):
	}

	if !approved {
		return &ChargeResult{Reason: "payment declined by gateway"}, nil
	}
	return &ChargeResult{
		Approved:      true,
		TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()[:8]),
	}, nil
}

// PaymentService creates payments, drives them through the gateway and
// reports settled payments back to the order side.
type PaymentService struct {
	repo          PaymentRepository
	gateway       Gateway
	orders        OrderCallback
	locker        Locker
	publisher     Publisher
	currency      string
	paymentMethod string
	logger        *zap.Logger
}

type PaymentOptions struct {
	DefaultCurrency string
	DefaultMethod   string
	// Locker is optional. Without it the completed-payment index is the only
	// guard against concurrent duplicates.
	Locker Locker
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo PaymentRepository, gateway Gateway, orders OrderCallback, publisher Publisher, opts PaymentOptions) *PaymentService {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = "card"
	}
	return &PaymentService{
		repo:          repo,
		gateway:       gateway,
		orders:        orders,
		locker:        opts.Locker,
		publisher:     publisher,
		currency:      opts.DefaultCurrency,
		paymentMethod: opts.DefaultMethod,
		logger:        util.GetLogger(),
	}
}

// CreatePaymentRequest represents a request to pay for an order
type CreatePaymentRequest struct {
	OrderID       string          `json:"order_id" binding:"required"`
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
}

func (s *PaymentService) publish(ctx context.Context, payload models.Payload) {
	event := models.NewEvent(payload, PaymentServiceName, util.CorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// lock takes the per-order payment lock when a locker is configured. The
// returned func releases it.
func (s *PaymentService) lock(ctx context.Context, orderID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := "payment:" + orderID
	token, ok, err := s.locker.AcquireLock(ctx, key)
	if err != nil {
		s.logger.Warn("Payment lock unavailable, continuing without it",
			zap.String("order_id", orderID),
			zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, apperror.Conflict("a payment for order %s is already in progress", orderID)
	}

	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release payment lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}, nil
}

func (s *PaymentService) ensureNotPaid(ctx context.Context, orderID string) error {
	completed, err := s.repo.GetCompletedPayment(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to check existing payments: %w", err)
	}
	if completed != nil {
		return apperror.Conflict("order %s already has a completed payment %s", orderID, completed.ID)
	}
	return nil
}

// CreatePayment records a payment for an order and charges it. A declined
// charge is returned as a failed payment, not as an error.
func (s *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment")
	defer span.End()

	if req.OrderID == "" {
		return nil, apperror.Validation("order_id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.Validation("amount must be positive")
	}

	unlock, err := s.lock(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureNotPaid(ctx, req.OrderID); err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:            uuid.New().String(),
		OrderID:       req.OrderID,
		OwnerID:       req.OwnerID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Status:        models.PaymentStatusProcessing,
		PaymentMethod: req.PaymentMethod,
	}
	if p.Currency == "" {
		p.Currency = s.currency
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = s.paymentMethod
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Payment initiated",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("amount", p.Amount.String()))

	s.publish(ctx, &models.PaymentInitiated{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: p.PaymentMethod,
	})

	if err := s.process(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

const outcomeTimeout = 5 * time.Second

// process charges a payment in status processing and records the outcome
func (s *PaymentService) process(ctx context.Context, p *models.Payment) error {
	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	result, err := s.gateway.Charge(ctx, p)
	if err != nil {
		result = &ChargeResult{Reason: apperror.MessageOf(err)}
	}

	// The outcome must land even when the caller went away mid-charge,
	// otherwise the payment is stuck in processing and cannot be retried.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	if !result.Approved {
		p.Status = models.PaymentStatusFailed
		p.TransactionID = nil
		p.FailureReason = models.StringPtr(result.Reason)
		if err := s.repo.UpdatePayment(ctx, p, models.PaymentStatusProcessing); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}

		util.PaymentFailedTotal.Inc()
		s.logger.Warn("Payment failed",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("reason", result.Reason))

		s.publish(ctx, &models.PaymentFailed{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Reason:    result.Reason,
		})
		return nil
	}

	p.Status = models.PaymentStatusCompleted
	p.TransactionID = models.StringPtr(result.TransactionID)
	p.FailureReason = nil
	if err := s.repo.UpdatePayment(ctx, p, models.PaymentStatusProcessing); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	util.PaymentSuccessTotal.Inc()
	s.logger.Info("Payment succeeded",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("tx_id", result.TransactionID))

	s.publish(ctx, &models.PaymentCompleted{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		TransactionID: result.TransactionID,
	})

	if err := s.orders.SetPaymentID(ctx, p.OrderID, p.ID); err != nil {
		s.logger.Error("Failed to report payment to order",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Error(err))
	}
	return nil
}

// Refund reverses a completed payment
func (s *PaymentService) Refund(ctx context.Context, paymentID, reason string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusCompleted {
		return nil, apperror.Validation("only completed payments can be refunded, payment %s is %s", p.ID, p.Status)
	}

	p.Status = models.PaymentStatusRefunded
	if err := s.repo.UpdatePayment(ctx, p, models.PaymentStatusCompleted); err != nil {
		return nil, err
	}

	util.PaymentRefundsTotal.Inc()
	s.logger.Info("Payment refunded",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("reason", reason))

	s.publish(ctx, &models.PaymentRefunded{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Reason:    reason,
	})
	return p, nil
}

// Retry charges a failed payment again
func (s *PaymentService) Retry(ctx context.Context, paymentID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Retry")
	defer span.End()

	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusFailed {
		return nil, apperror.Validation("only failed payments can be retried, payment %s is %s", p.ID, p.Status)
	}

	unlock, err := s.lock(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureNotPaid(ctx, p.OrderID); err != nil {
		return nil, err
	}

	p.Status = models.PaymentStatusProcessing
	p.FailureReason = nil
	if err := s.repo.UpdatePayment(ctx, p, models.PaymentStatusFailed); err != nil {
		return nil, err
	}

	s.logger.Info("Retrying payment", zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))

	if err := s.process(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment retrieves a payment by ID
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.repo.GetPayment(ctx, paymentID)
}

// ListPayments retrieves every payment attempt for an order
func (s *PaymentService) ListPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	return s.repo.ListPaymentsByOrder(ctx, orderID)
}
