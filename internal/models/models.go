package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Address is the shipping destination of an order, stored as JSON.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (a *Address) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into Address", src)
	}
}

// Order represents a customer order
type Order struct {
	ID              string          `db:"id" json:"id"`
	OwnerID         string          `db:"owner_id" json:"owner_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status          OrderStatus     `db:"status" json:"status"`
	ShippingAddress Address         `db:"shipping_address" json:"shipping_address"`
	PaymentID       *string         `db:"payment_id" json:"payment_id,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Items           []OrderItem     `db:"-" json:"items"`
}

// OrderItem represents items in an order
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// NewOrderItem builds an item with its subtotal computed from quantity and price.
func NewOrderItem(productID string, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// ComputeTotal sums quantity x unitPrice over items.
func ComputeTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// StockItems projects order items onto the inventory request shape.
func StockItems(items []OrderItem) []StockItem {
	out := make([]StockItem, 0, len(items))
	for _, item := range items {
		out = append(out, StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// StockItem is a product/quantity pair used by inventory operations
type StockItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

// InventoryRecord represents product stock. Available quantity is derived.
type InventoryRecord struct {
	ID                int64     `db:"id" json:"id"`
	ProductID         string    `db:"product_id" json:"product_id"`
	Quantity          int       `db:"quantity" json:"quantity"`
	ReservedQuantity  int       `db:"reserved_quantity" json:"reserved_quantity"`
	WarehouseLocation string    `db:"warehouse_location" json:"warehouse_location"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns quantity minus reserved quantity.
func (r InventoryRecord) Available() int {
	return r.Quantity - r.ReservedQuantity
}

// MarshalJSON adds the derived available_quantity field.
func (r InventoryRecord) MarshalJSON() ([]byte, error) {
	type record InventoryRecord
	return json.Marshal(struct {
		record
		AvailableQuantity int `json:"available_quantity"`
	}{record(r), r.Available()})
}

// Reservation is the per-order, per-product hold backing reservedQuantity.
type Reservation struct {
	ID        int64             `db:"id" json:"id"`
	OrderID   string            `db:"order_id" json:"order_id"`
	ProductID string            `db:"product_id" json:"product_id"`
	Quantity  int               `db:"quantity" json:"quantity"`
	Status    ReservationStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

type ReservationStatus string

// Reservation statuses
const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationReleased  ReservationStatus = "released"
	ReservationConfirmed ReservationStatus = "confirmed"
)

// Payment represents a payment transaction
type Payment struct {
	ID            string          `db:"id" json:"id"`
	OrderID       string          `db:"order_id" json:"order_id"`
	OwnerID       string          `db:"owner_id" json:"owner_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        PaymentStatus   `db:"status" json:"status"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	FailureReason *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// VerifyResult answers an advisory stock check
type VerifyResult struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}
