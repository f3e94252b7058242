package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inventoryCols = []string{"id", "product_id", "quantity", "reserved_quantity", "warehouse_location", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromDB(sqlx.NewDb(db, "postgres")), mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestCreateOrderInsertsItems(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	order := &models.Order{
		ID:          "order-1",
		OwnerID:     "user-1",
		TotalAmount: decimal.NewFromInt(25),
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{
			models.NewOrderItem("a", 2, decimal.NewFromInt(10)),
			models.NewOrderItem("b", 1, decimal.NewFromInt(5)),
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO orders")).
		WithArgs("order-1", "user-1", sqlmock.AnyArg(), "pending", sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery(q("INSERT INTO order_items")).
		WithArgs("order-1", "a", 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(q("INSERT INTO order_items")).
		WithArgs("order-1", "b", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	require.NoError(t, s.CreateOrder(context.Background(), order))
	assert.Equal(t, int64(11), order.Items[0].ID)
	assert.Equal(t, "order-1", order.Items[1].OrderID)
	assert.Equal(t, now, order.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderDuplicateIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO orders")).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateOrder(context.Background(), &models.Order{ID: "order-1", Status: models.OrderStatusPending})
	assert.True(t, apperror.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetOrder(context.Background(), "missing")
	assert.True(t, apperror.IsNotFound(err))
}

func TestGetOrderLoadsItems(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(q("FROM orders WHERE id = $1")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "total_amount", "status", "shipping_address", "payment_id", "idempotency_key", "created_at", "updated_at"}).
			AddRow("order-1", "user-1", "20.00", "pending", []byte(`{"city":"Jakarta"}`), nil, nil, now, now))
	mock.ExpectQuery(q("FROM order_items WHERE order_id = $1")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "unit_price", "subtotal"}).
			AddRow(1, "order-1", "a", 2, "10.00", "20.00"))

	order, err := s.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Jakarta", order.ShippingAddress.City)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Nil(t, order.PaymentID)
}

func TestUpdateOrderStatusLostRaceIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("UPDATE orders SET status = $1")).
		WithArgs("confirmed", "order-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT EXISTS")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.UpdateOrderStatus(context.Background(), "order-1", models.OrderStatusPending, models.OrderStatusConfirmed)
	assert.True(t, apperror.IsConflict(err))
}

func TestDeleteOrderMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("DELETE FROM orders")).
		WithArgs("order-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, apperror.IsNotFound(s.DeleteOrder(context.Background(), "order-1")))
}

func TestCreateInventoryDuplicateIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("INSERT INTO inventory")).WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateInventory(context.Background(), &models.InventoryRecord{ProductID: "a", Quantity: 5})
	assert.True(t, apperror.IsConflict(err))
}

func TestReserveStockSkipsOrderWithReservations(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("SELECT pg_advisory_xact_lock")).WithArgs("order-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM inventory_reservations")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	updated, err := s.ReserveStock(context.Background(), "order-1", []models.StockItem{{ProductID: "a", Quantity: 2}})
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStockLocksProductsInOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(q("SELECT pg_advisory_xact_lock")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM inventory_reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	for _, p := range []struct {
		id  string
		qty int
	}{{"a", 3}, {"b", 2}} {
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs(p.id).
			WillReturnRows(sqlmock.NewRows(inventoryCols).AddRow(1, p.id, 10, 0, "A1", now, now))
		mock.ExpectQuery(q("UPDATE inventory SET reserved_quantity = reserved_quantity + $1")).
			WithArgs(p.qty, p.id).
			WillReturnRows(sqlmock.NewRows(inventoryCols).AddRow(1, p.id, 10, p.qty, "A1", now, now))
		mock.ExpectExec(q("INSERT INTO inventory_reservations")).
			WithArgs("order-1", p.id, p.qty, "reserved").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	items := []models.StockItem{{ProductID: "b", Quantity: 2}, {ProductID: "a", Quantity: 1}, {ProductID: "a", Quantity: 2}}
	updated, err := s.ReserveStock(context.Background(), "order-1", items)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, 7, updated[0].Available())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveStockInsufficientRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(q("SELECT pg_advisory_xact_lock")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM inventory_reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(inventoryCols).AddRow(1, "a", 10, 8, "A1", now, now))
	mock.ExpectRollback()

	_, err := s.ReserveStock(context.Background(), "order-1", []models.StockItem{{ProductID: "a", Quantity: 5}})
	assert.True(t, apperror.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseStockWithNothingHeld(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM inventory_reservations")).
		WithArgs("order-1", "reserved").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "status", "created_at", "updated_at"}))
	mock.ExpectCommit()

	updated, err := s.ReleaseStock(context.Background(), "order-1", nil)
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStockQuantityBelowReserved(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(inventoryCols).AddRow(1, "a", 10, 6, "A1", now, now))
	mock.ExpectRollback()

	_, _, err := s.SetStockQuantity(context.Background(), "a", 5)
	assert.True(t, apperror.IsValidation(err))
}

func TestUpdatePaymentCompletedTwiceIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("UPDATE payments")).WillReturnError(&pq.Error{Code: "23505"})

	p := &models.Payment{ID: "pay-1", OrderID: "order-1", Status: models.PaymentStatusCompleted}
	err := s.UpdatePayment(context.Background(), p, models.PaymentStatusProcessing)
	assert.True(t, apperror.IsConflict(err))
}

func TestGetCompletedPaymentNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM payments WHERE order_id = $1 AND status = $2")).
		WithArgs("order-1", "completed").
		WillReturnError(sql.ErrNoRows)

	p, err := s.GetCompletedPayment(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMarkEventProcessedTwice(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("INSERT INTO processed_events")).
		WithArgs("evt-1", "order.confirmed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO processed_events")).
		WithArgs("evt-1", "order.confirmed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.MarkEventProcessed(context.Background(), "evt-1", "order.confirmed")
	require.NoError(t, err)
	second, err := s.MarkEventProcessed(context.Background(), "evt-1", "order.confirmed")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}
