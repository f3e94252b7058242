package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService drives the order saga: verify, persist, reserve, emit
type OrderService struct {
	orders    OrderRepository
	inventory InventoryClient
	publisher Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(orders OrderRepository, inventory InventoryClient, publisher Publisher) *OrderService {
	return &OrderService{
		orders:    orders,
		inventory: inventory,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	OwnerID         string             `json:"owner_id" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required"`
	ShippingAddress models.Address     `json:"shipping_address"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents an item in an order. Client totals are not
// accepted; subtotals are computed here.
type OrderItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func validateOrderRequest(req *CreateOrderRequest) error {
	if req.OwnerID == "" {
		return apperror.Validation("owner_id is required")
	}
	if len(req.Items) == 0 {
		return apperror.Validation("order must contain at least one item")
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return apperror.Validation("item %d: product_id is required", i)
		}
		if item.Quantity <= 0 {
			return apperror.Validation("item %d: quantity must be positive", i)
		}
		if !item.UnitPrice.IsPositive() {
			return apperror.Validation("item %d: unit_price must be positive", i)
		}
	}
	return nil
}

func (s *OrderService) publish(ctx context.Context, payload models.Payload) {
	event := models.NewEvent(payload, OrderServiceName, util.CorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// CreateOrder validates the request, checks stock, persists the order and
// reserves its stock. A failed reservation deletes the order again.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if err := validateOrderRequest(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.NewOrderItem(item.ProductID, item.Quantity, item.UnitPrice))
	}
	stock := models.StockItems(items)

	result, err := s.inventory.Verify(ctx, stock)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("verify_failed").Inc()
		return nil, err
	}
	if !result.Available {
		util.OrdersFailedTotal.WithLabelValues("out_of_stock").Inc()
		return nil, apperror.Validation("out of stock: %s", result.Reason)
	}

	order := &models.Order{
		ID:              uuid.New().String(),
		OwnerID:         req.OwnerID,
		TotalAmount:     models.ComputeTotal(items),
		Status:          models.OrderStatusPending,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  models.StringPtr(req.IdempotencyKey),
		Items:           items,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if apperror.IsConflict(err) && req.IdempotencyKey != "" {
			if existing, getErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.inventory.Reserve(ctx, order.ID, stock); err != nil {
		s.compensate(ctx, order, err)
		util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, &apperror.Error{
			Code:    apperror.CodeValidation,
			Message: fmt.Sprintf("reservation failed: %s", apperror.MessageOf(err)),
			Err:     err,
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("owner_id", order.OwnerID),
		zap.String("total", order.TotalAmount.String()))

	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	s.publish(ctx, &models.OrderCreated{
		OrderID:     order.ID,
		OwnerID:     order.OwnerID,
		TotalAmount: order.TotalAmount,
		Items:       data,
	})

	return order, nil
}

// compensate undoes a persisted order whose reservation failed. The release
// covers a reservation that committed before its reply was lost.
func (s *OrderService) compensate(ctx context.Context, order *models.Order, cause error) {
	s.logger.Warn("Reservation failed, compensating",
		zap.String("order_id", order.ID),
		zap.Error(cause))

	if apperror.IsTransient(cause) {
		if err := s.inventory.Release(ctx, order.ID, nil); err != nil {
			s.logger.Error("Failed to release stock during compensation",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	if err := s.orders.DeleteOrder(ctx, order.ID); err != nil && !apperror.IsNotFound(err) {
		s.logger.Error("Failed to delete order during compensation",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return
	}
	util.OrdersCompensatedTotal.Inc()
}

// GetOrder retrieves an order with its items
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// ListOrders retrieves an owner's orders
func (s *OrderService) ListOrders(ctx context.Context, ownerID string) ([]models.Order, error) {
	if ownerID == "" {
		return nil, apperror.Validation("owner_id is required")
	}
	return s.orders.ListOrdersByOwner(ctx, ownerID)
}

// UpdateStatus applies a status transition. Cancelling releases the order's
// reservation first; if the release fails the order keeps its status.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if err := models.ValidateTransition(from, status); err != nil {
		return nil, err
	}

	if status == models.OrderStatusCancelled {
		if err := s.inventory.Release(ctx, orderID, models.StockItems(order.Items)); err != nil {
			return nil, fmt.Errorf("failed to release stock for order %s: %w", orderID, err)
		}
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, from, status); err != nil {
		return nil, err
	}
	order.Status = status

	util.OrderStatusTransitions.WithLabelValues(string(from), string(status)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))

	switch status {
	case models.OrderStatusConfirmed:
		s.publish(ctx, &models.OrderConfirmed{
			OrderID:     order.ID,
			OwnerID:     order.OwnerID,
			TotalAmount: order.TotalAmount,
		})
	case models.OrderStatusCancelled:
		util.OrdersCancelledTotal.Inc()
		s.publish(ctx, &models.OrderCancelled{
			OrderID:        order.ID,
			PreviousStatus: from,
			Items:          models.StockItems(order.Items),
		})
	default:
		s.publish(ctx, &models.OrderStatusUpdated{
			OrderID:   order.ID,
			OldStatus: from,
			NewStatus: status,
		})
	}

	return order, nil
}

// UpdatePaymentID records the payment that settled an order
func (s *OrderService) UpdatePaymentID(ctx context.Context, orderID, paymentID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdatePaymentID")
	defer span.End()

	if paymentID == "" {
		return apperror.Validation("payment_id is required")
	}
	if err := s.orders.SetOrderPaymentID(ctx, orderID, paymentID); err != nil {
		return err
	}

	s.logger.Info("Order payment recorded",
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID))
	return nil
}
