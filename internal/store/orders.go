package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, owner_id, total_amount, status, shipping_address, payment_id, idempotency_key, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, quantity, unit_price, subtotal`

// CreateOrder inserts an order and its items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO orders (id, owner_id, total_amount, status, shipping_address, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			order.ID, order.OwnerID, order.TotalAmount, order.Status, order.ShippingAddress, order.IdempotencyKey,
		).Scan(&order.CreatedAt, &order.UpdatedAt)
		if isUniqueViolation(err) {
			return apperror.Conflict("order already exists: %s", order.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.GetContext(ctx, &item.ID, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}
		return nil
	})
}

// GetOrder retrieves an order with its items
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("order not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil when no order carries the key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by idempotency key: %w", err)
	}

	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByOwner retrieves orders for an owner, newest first
func (s *Store) ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE owner_id = $1 ORDER BY created_at DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	query, args, err := sqlx.In("SELECT "+orderItemColumns+" FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	byOrder := make(map[string][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	order.Items = []models.OrderItem{}
	err := s.db.SelectContext(ctx, &order.Items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", order.ID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}
	return nil
}

// UpdateOrderStatus moves an order from one status to another. It fails with
// a conflict when the order is no longer in the expected status.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return s.checkOrderUpdated(ctx, res, id, "order %s is no longer %s", id, from)
}

// SetOrderPaymentID records the payment that settled an order
func (s *Store) SetOrderPaymentID(ctx context.Context, id, paymentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_id = $1, updated_at = NOW() WHERE id = $2",
		paymentID, id)
	if err != nil {
		return fmt.Errorf("failed to update order payment: %w", err)
	}
	return s.checkOrderUpdated(ctx, res, id, "order %s was not updated", id)
}

func (s *Store) checkOrderUpdated(ctx context.Context, res sql.Result, id string, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id); err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return apperror.NotFound("order not found: %s", id)
	}
	return apperror.Conflict(format, args...)
}

// DeleteOrder removes an order and, by cascade, its items
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("order not found: %s", id)
	}
	return nil
}
