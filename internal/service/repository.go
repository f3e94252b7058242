package service

import (
	"context"

	"fulfillment-service/internal/models"
)

// Service names stamped into event metadata
const (
	OrderServiceName     = "order-service"
	InventoryServiceName = "inventory-service"
	PaymentServiceName   = "payment-service"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error
	SetOrderPaymentID(ctx context.Context, id, paymentID string) error
	DeleteOrder(ctx context.Context, id string) error
}

type InventoryRepository interface {
	CreateInventory(ctx context.Context, rec *models.InventoryRecord) error
	GetInventory(ctx context.Context, productID string) (*models.InventoryRecord, error)
	ListInventory(ctx context.Context) ([]models.InventoryRecord, error)
	ReserveStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error)
	ReleaseStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error)
	ConfirmStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error)
	SetStockQuantity(ctx context.Context, productID string, quantity int) (before, after *models.InventoryRecord, err error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	GetCompletedPayment(ctx context.Context, orderID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment, from models.PaymentStatus) error
}

// EventLog records consumed events so redelivered ones are skipped
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Publisher is the part of the event bus the services emit through
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// InventoryClient is how the order saga reaches the inventory engine,
// in process or over HTTP.
type InventoryClient interface {
	Verify(ctx context.Context, items []models.StockItem) (*models.VerifyResult, error)
	Reserve(ctx context.Context, orderID string, items []models.StockItem) error
	Release(ctx context.Context, orderID string, items []models.StockItem) error
}

// OrderCallback is how the payment coordinator reports a settled payment
type OrderCallback interface {
	SetPaymentID(ctx context.Context, orderID, paymentID string) error
}

// Locker guards a key across instances. Implemented by the Redis client.
type Locker interface {
	AcquireLock(ctx context.Context, key string) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}
