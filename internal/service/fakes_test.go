package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resilience"
)

// memStore is an in-memory stand-in for the Postgres store. One mutex plays
// the part of the row locks.
type memStore struct {
	mu           sync.Mutex
	orders       map[string]*models.Order
	inventory    map[string]*models.InventoryRecord
	reservations map[string]map[string]*models.Reservation
	payments     map[string]*models.Payment
	processed    map[string]string

	reserveErr  error
	reserveHook func()
}

func newMemStore() *memStore {
	return &memStore{
		orders:       make(map[string]*models.Order),
		inventory:    make(map[string]*models.InventoryRecord),
		reservations: make(map[string]map[string]*models.Reservation),
		payments:     make(map[string]*models.Payment),
		processed:    make(map[string]string),
	}
}

func (m *memStore) seed(productID string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory[productID] = &models.InventoryRecord{ProductID: productID, Quantity: quantity}
}

func (m *memStore) stock(productID string) models.InventoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.inventory[productID]
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.IdempotencyKey != nil {
		for _, o := range m.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return apperror.Conflict("duplicate idempotency key")
			}
		}
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperror.NotFound("order not found: %s", id)
	}
	return copyOrder(o), nil
}

func (m *memStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (m *memStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, *copyOrder(o))
		}
	}
	return out, nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return apperror.NotFound("order not found: %s", id)
	}
	if o.Status != from {
		return apperror.Conflict("order %s is no longer %s", id, from)
	}
	o.Status = to
	return nil
}

func (m *memStore) SetOrderPaymentID(ctx context.Context, id, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return apperror.NotFound("order not found: %s", id)
	}
	o.PaymentID = &paymentID
	return nil
}

func (m *memStore) DeleteOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return apperror.NotFound("order not found: %s", id)
	}
	delete(m.orders, id)
	return nil
}

func (m *memStore) CreateInventory(ctx context.Context, rec *models.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inventory[rec.ProductID]; ok {
		return apperror.Conflict("inventory already exists for product %s", rec.ProductID)
	}
	c := *rec
	m.inventory[rec.ProductID] = &c
	return nil
}

func (m *memStore) GetInventory(ctx context.Context, productID string) (*models.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.inventory[productID]
	if !ok {
		return nil, apperror.NotFound("inventory not found for product %s", productID)
	}
	c := *rec
	return &c, nil
}

func (m *memStore) ListInventory(ctx context.Context) ([]models.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.InventoryRecord, 0, len(m.inventory))
	for _, rec := range m.inventory {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (m *memStore) ReserveStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	if m.reserveHook != nil {
		m.reserveHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	if len(m.reservations[orderID]) > 0 {
		return nil, nil
	}

	merged := make(map[string]int)
	for _, item := range items {
		merged[item.ProductID] += item.Quantity
	}
	for productID, qty := range merged {
		rec, ok := m.inventory[productID]
		if !ok {
			return nil, apperror.NotFound("inventory not found for product %s", productID)
		}
		if rec.Available() < qty {
			return nil, apperror.Validation("insufficient stock for product %s: available=%d, requested=%d",
				productID, rec.Available(), qty)
		}
	}

	held := make(map[string]*models.Reservation)
	var out []models.InventoryRecord
	for productID, qty := range merged {
		rec := m.inventory[productID]
		rec.ReservedQuantity += qty
		held[productID] = &models.Reservation{OrderID: orderID, ProductID: productID, Quantity: qty, Status: models.ReservationReserved}
		out = append(out, *rec)
	}
	m.reservations[orderID] = held
	return out, nil
}

func (m *memStore) settle(orderID string, items []models.StockItem, to models.ReservationStatus) []models.InventoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter := make(map[string]bool)
	for _, item := range items {
		filter[item.ProductID] = true
	}

	var out []models.InventoryRecord
	for productID, r := range m.reservations[orderID] {
		if r.Status != models.ReservationReserved {
			continue
		}
		if len(filter) > 0 && !filter[productID] {
			continue
		}
		rec := m.inventory[productID]
		rec.ReservedQuantity -= r.Quantity
		if rec.ReservedQuantity < 0 {
			rec.ReservedQuantity = 0
		}
		if to == models.ReservationConfirmed {
			rec.Quantity -= r.Quantity
			if rec.Quantity < 0 {
				rec.Quantity = 0
			}
		}
		r.Status = to
		out = append(out, *rec)
	}
	return out
}

func (m *memStore) ReleaseStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	return m.settle(orderID, items, models.ReservationReleased), nil
}

func (m *memStore) ConfirmStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	return m.settle(orderID, items, models.ReservationConfirmed), nil
}

func (m *memStore) SetStockQuantity(ctx context.Context, productID string, quantity int) (*models.InventoryRecord, *models.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.inventory[productID]
	if !ok {
		return nil, nil, apperror.NotFound("inventory not found for product %s", productID)
	}
	if quantity < rec.ReservedQuantity {
		return nil, nil, apperror.Validation("quantity %d is below reserved %d", quantity, rec.ReservedQuantity)
	}
	before := *rec
	rec.Quantity = quantity
	after := *rec
	return &before, &after, nil
}

func (m *memStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.payments[p.ID] = &c
	return nil
}

func (m *memStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, apperror.NotFound("payment not found: %s", id)
	}
	c := *p
	return &c, nil
}

func (m *memStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) GetCompletedPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusCompleted {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdatePayment(ctx context.Context, p *models.Payment, from models.PaymentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.payments[p.ID]
	if !ok {
		return apperror.NotFound("payment not found: %s", p.ID)
	}
	if cur.Status != from {
		return apperror.Conflict("payment %s is no longer %s", p.ID, from)
	}
	c := *p
	m.payments[p.ID] = &c
	return nil
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[eventID]; ok {
		return false, nil
	}
	m.processed[eventID] = eventType
	return true, nil
}

// failingPublisher rejects every event
type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, event models.Event) error {
	return errors.New("broker unavailable")
}

// stubGateway answers from a queue of results, approving once it runs dry
type stubGateway struct {
	mu      sync.Mutex
	results []*ChargeResult
	calls   int
	// interrupt runs before answering; a done ctx afterwards fails the charge
	interrupt func()
}

func (g *stubGateway) Charge(ctx context.Context, p *models.Payment) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.interrupt != nil {
		g.interrupt()
		g.interrupt = nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Transient(err, "payment gateway call interrupted")
	}
	if len(g.results) == 0 {
		return &ChargeResult{Approved: true, TransactionID: "TXN-test"}, nil
	}
	r := g.results[0]
	g.results = g.results[1:]
	return r, nil
}

// memLocker is a single-process Locker
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func (l *memLocker) AcquireLock(ctx context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]string)
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token-" + key
	return l.held[key], true, nil
}

func (l *memLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func testPolicy(name string) *resilience.Policy {
	s := resilience.DefaultBreakerSettings(name)
	return resilience.NewPolicy(resilience.PolicyConfig{
		Breaker:        s,
		RetryBaseDelay: time.Millisecond,
		MaxRetries:     1,
		BulkheadSize:   10,
		BulkheadQueue:  10,
	})
}

// fixture wires all three services over one memStore and a volatile bus
type fixture struct {
	store     *memStore
	bus       *broker.VolatileBus
	inventory *InventoryService
	orders    *OrderService
	payments  *PaymentService
	gateway   *stubGateway
	locker    *memLocker
}

func newFixture() *fixture {
	f := &fixture{
		store:   newMemStore(),
		bus:     broker.NewVolatileBus(100),
		gateway: &stubGateway{},
		locker:  &memLocker{},
	}
	_ = f.bus.Connect(context.Background())

	f.inventory = NewInventoryService(f.store, f.bus, 3)
	f.orders = NewOrderService(f.store, NewLocalInventoryClient(f.inventory, testPolicy("inventory")), f.bus)
	f.payments = NewPaymentService(f.store, f.gateway, NewLocalOrderCallback(f.orders, testPolicy("order")), f.bus,
		PaymentOptions{Locker: f.locker})
	return f
}

// events returns the types of everything published so far, oldest first
func (f *fixture) events() []models.EventType {
	recent := f.bus.Recent(0)
	out := make([]models.EventType, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i].Type)
	}
	return out
}
