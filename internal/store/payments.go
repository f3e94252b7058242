package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
)

const paymentColumns = `id, order_id, owner_id, amount, currency, status, payment_method, transaction_id, failure_reason, created_at, updated_at`

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, owner_id, amount, currency, status, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		p.ID, p.OrderID, p.OwnerID, p.Amount, p.Currency, p.Status, p.PaymentMethod,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperror.Conflict("payment already exists: %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("payment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// ListPaymentsByOrder retrieves all payments for an order, newest first
func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// GetCompletedPayment returns nil when the order has no completed payment
func (s *Store) GetCompletedPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND status = $2 LIMIT 1",
		orderID, models.PaymentStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completed payment: %w", err)
	}
	return &p, nil
}

// UpdatePayment writes status, transaction id and failure reason, provided
// the payment is still in status from.
func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment, from models.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = $1, transaction_id = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		p.Status, p.TransactionID, p.FailureReason, p.ID, from,
	).Scan(&p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperror.Conflict("order %s already has a completed payment", p.OrderID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetPayment(ctx, p.ID); getErr != nil {
			return getErr
		}
		return apperror.Conflict("payment %s is no longer %s", p.ID, from)
	}
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}
