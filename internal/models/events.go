package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

// Event types
const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderConfirmed     EventType = "order.confirmed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderStatusUpdated EventType = "order.status_updated"

	EventTypeInventoryCreated    EventType = "inventory.created"
	EventTypeInventoryReserved   EventType = "inventory.reserved"
	EventTypeInventoryReleased   EventType = "inventory.released"
	EventTypeInventoryConfirmed  EventType = "inventory.confirmed"
	EventTypeInventoryUpdated    EventType = "inventory.updated"
	EventTypeInventoryLowStock   EventType = "inventory.low_stock"
	EventTypeInventoryOutOfStock EventType = "inventory.out_of_stock"

	EventTypePaymentInitiated EventType = "payment.initiated"
	EventTypePaymentCompleted EventType = "payment.completed"
	EventTypePaymentFailed    EventType = "payment.failed"
	EventTypePaymentRefunded  EventType = "payment.refunded"
)

// Domain returns the prefix before the first dot ("order" for "order.created").
func (t EventType) Domain() string {
	if i := strings.IndexByte(string(t), '.'); i > 0 {
		return string(t)[:i]
	}
	return string(t)
}

// Metadata travels with every event
type Metadata struct {
	CorrelationID string `json:"correlationId"`
	Service       string `json:"service"`
}

// Payload is implemented by every event variant. The variant fixes the event type.
type Payload interface {
	EventType() EventType
}

// Event is the envelope shared by all services
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// NewEvent wraps payload in an envelope with a fresh id. A missing
// correlation id gets a new one.
func NewEvent(payload Payload, service, correlationID string) Event {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      payload.EventType(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		Metadata: Metadata{
			CorrelationID: correlationID,
			Service:       service,
		},
	}
}

// UnmarshalJSON decodes the payload into the variant registered for the type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      EventType       `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
		Metadata  Metadata        `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}

	e.ID = raw.ID
	e.Type = raw.Type
	e.Payload = payload
	e.Timestamp = raw.Timestamp
	e.Metadata = raw.Metadata
	return nil
}

var payloadFactories = map[EventType]func() Payload{
	EventTypeOrderCreated:        func() Payload { return &OrderCreated{} },
	EventTypeOrderConfirmed:      func() Payload { return &OrderConfirmed{} },
	EventTypeOrderCancelled:      func() Payload { return &OrderCancelled{} },
	EventTypeOrderStatusUpdated:  func() Payload { return &OrderStatusUpdated{} },
	EventTypeInventoryCreated:    func() Payload { return &InventoryCreated{} },
	EventTypeInventoryReserved:   func() Payload { return &InventoryReserved{} },
	EventTypeInventoryReleased:   func() Payload { return &InventoryReleased{} },
	EventTypeInventoryConfirmed:  func() Payload { return &InventoryConfirmed{} },
	EventTypeInventoryUpdated:    func() Payload { return &InventoryUpdated{} },
	EventTypeInventoryLowStock:   func() Payload { return &InventoryLowStock{} },
	EventTypeInventoryOutOfStock: func() Payload { return &InventoryOutOfStock{} },
	EventTypePaymentInitiated:    func() Payload { return &PaymentInitiated{} },
	EventTypePaymentCompleted:    func() Payload { return &PaymentCompleted{} },
	EventTypePaymentFailed:       func() Payload { return &PaymentFailed{} },
	EventTypePaymentRefunded:     func() Payload { return &PaymentRefunded{} },
}

// IsKnownEventType reports whether t has a fixed payload schema.
func IsKnownEventType(t EventType) bool {
	_, ok := payloadFactories[t]
	return ok
}

// DecodePayload decodes raw into the variant for t. Types without a
// registered variant decode into Generic.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	if t == "" {
		return nil, fmt.Errorf("event type is required")
	}
	factory, ok := payloadFactories[t]
	if !ok {
		return &Generic{Kind: t, Data: append(json.RawMessage(nil), raw...)}, nil
	}
	payload := factory()
	if len(raw) == 0 || string(raw) == "null" {
		return payload, nil
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return payload, nil
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderCreated published when an order is persisted and its stock reserved
type OrderCreated struct {
	OrderID     string          `json:"order_id"`
	OwnerID     string          `json:"owner_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

func (*OrderCreated) EventType() EventType { return EventTypeOrderCreated }

// OrderConfirmed published when an order moves to confirmed
type OrderConfirmed struct {
	OrderID     string          `json:"order_id"`
	OwnerID     string          `json:"owner_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (*OrderConfirmed) EventType() EventType { return EventTypeOrderConfirmed }

// OrderCancelled published after the reservation of a cancelled order is released
type OrderCancelled struct {
	OrderID        string      `json:"order_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	Items          []StockItem `json:"items"`
}

func (*OrderCancelled) EventType() EventType { return EventTypeOrderCancelled }

// OrderStatusUpdated published for processing, shipped and delivered
type OrderStatusUpdated struct {
	OrderID   string      `json:"order_id"`
	OldStatus OrderStatus `json:"old_status"`
	NewStatus OrderStatus `json:"new_status"`
}

func (*OrderStatusUpdated) EventType() EventType { return EventTypeOrderStatusUpdated }

type InventoryCreated struct {
	ProductID         string `json:"product_id"`
	Quantity          int    `json:"quantity"`
	WarehouseLocation string `json:"warehouse_location"`
}

func (*InventoryCreated) EventType() EventType { return EventTypeInventoryCreated }

type InventoryReserved struct {
	OrderID string      `json:"order_id"`
	Items   []StockItem `json:"items"`
}

func (*InventoryReserved) EventType() EventType { return EventTypeInventoryReserved }

type InventoryReleased struct {
	OrderID string      `json:"order_id"`
	Items   []StockItem `json:"items"`
}

func (*InventoryReleased) EventType() EventType { return EventTypeInventoryReleased }

type InventoryConfirmed struct {
	OrderID string      `json:"order_id"`
	Items   []StockItem `json:"items"`
}

func (*InventoryConfirmed) EventType() EventType { return EventTypeInventoryConfirmed }

type InventoryUpdated struct {
	ProductID         string `json:"product_id"`
	PreviousQuantity  int    `json:"previous_quantity"`
	NewQuantity       int    `json:"new_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
}

func (*InventoryUpdated) EventType() EventType { return EventTypeInventoryUpdated }

type InventoryLowStock struct {
	ProductID         string `json:"product_id"`
	AvailableQuantity int    `json:"available_quantity"`
	Threshold         int    `json:"threshold"`
}

func (*InventoryLowStock) EventType() EventType { return EventTypeInventoryLowStock }

type InventoryOutOfStock struct {
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id,omitempty"`
}

func (*InventoryOutOfStock) EventType() EventType { return EventTypeInventoryOutOfStock }

type PaymentInitiated struct {
	PaymentID     string          `json:"payment_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
}

func (*PaymentInitiated) EventType() EventType { return EventTypePaymentInitiated }

type PaymentCompleted struct {
	PaymentID     string          `json:"payment_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
}

func (*PaymentCompleted) EventType() EventType { return EventTypePaymentCompleted }

type PaymentFailed struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Reason    string `json:"reason"`
}

func (*PaymentFailed) EventType() EventType { return EventTypePaymentFailed }

type PaymentRefunded struct {
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func (*PaymentRefunded) EventType() EventType { return EventTypePaymentRefunded }

// Generic carries events from other services whose type has no fixed schema here.
type Generic struct {
	Kind EventType
	Data json.RawMessage
}

func (g *Generic) EventType() EventType { return g.Kind }

// MarshalJSON emits the raw payload unchanged.
func (g *Generic) MarshalJSON() ([]byte, error) {
	if len(g.Data) == 0 {
		return []byte("null"), nil
	}
	return g.Data, nil
}
