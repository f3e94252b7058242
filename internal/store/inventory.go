package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const inventoryColumns = `id, product_id, quantity, reserved_quantity, warehouse_location, created_at, updated_at`

// CreateInventory inserts a stock record for a new product
func (s *Store) CreateInventory(ctx context.Context, rec *models.InventoryRecord) error {
	query := `
		INSERT INTO inventory (product_id, quantity, reserved_quantity, warehouse_location)
		VALUES ($1, $2, 0, $3)
		RETURNING ` + inventoryColumns

	err := s.db.GetContext(ctx, rec, query, rec.ProductID, rec.Quantity, rec.WarehouseLocation)
	if isUniqueViolation(err) {
		return apperror.Conflict("inventory already exists for product: %s", rec.ProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to create inventory: %w", err)
	}
	return nil
}

// GetInventory retrieves inventory for a product
func (s *Store) GetInventory(ctx context.Context, productID string) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	err := s.db.GetContext(ctx, &rec, "SELECT "+inventoryColumns+" FROM inventory WHERE product_id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("inventory not found for product: %s", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	return &rec, nil
}

// ListInventory retrieves all stock records
func (s *Store) ListInventory(ctx context.Context) ([]models.InventoryRecord, error) {
	records := []models.InventoryRecord{}
	err := s.db.SelectContext(ctx, &records, "SELECT "+inventoryColumns+" FROM inventory ORDER BY product_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	return records, nil
}

// mergeItems sums quantities per product and orders products so that
// concurrent transactions take row locks in the same order.
func mergeItems(items []models.StockItem) []models.StockItem {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}

	merged := make([]models.StockItem, 0, len(totals))
	for productID, qty := range totals {
		merged = append(merged, models.StockItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

func lockInventory(ctx context.Context, tx *sqlx.Tx, productID string) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	err := tx.GetContext(ctx, &rec,
		"SELECT "+inventoryColumns+" FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("inventory not found for product: %s", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	return &rec, nil
}

// ReserveStock holds stock for every item of an order in one transaction,
// locking each product row. Either all items are reserved or none are. An
// order that already holds reservations is left untouched and no records
// are returned.
func (s *Store) ReserveStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	var updated []models.InventoryRecord

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		// serializes duplicate reserve calls for the same order
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", orderID); err != nil {
			return fmt.Errorf("failed to lock order reservations: %w", err)
		}

		var existing int
		err := tx.GetContext(ctx, &existing,
			"SELECT COUNT(*) FROM inventory_reservations WHERE order_id = $1", orderID)
		if err != nil {
			return fmt.Errorf("failed to check reservations: %w", err)
		}
		if existing > 0 {
			return nil
		}

		for _, item := range mergeItems(items) {
			rec, err := lockInventory(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}

			if rec.Available() < item.Quantity {
				return apperror.Validation("insufficient stock for product %s: available=%d, requested=%d",
					item.ProductID, rec.Available(), item.Quantity)
			}

			err = tx.GetContext(ctx, rec, `
				UPDATE inventory SET reserved_quantity = reserved_quantity + $1, updated_at = NOW()
				WHERE product_id = $2
				RETURNING `+inventoryColumns,
				item.Quantity, item.ProductID)
			if err != nil {
				return fmt.Errorf("failed to reserve stock: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO inventory_reservations (order_id, product_id, quantity, status)
				VALUES ($1, $2, $3, $4)`,
				orderID, item.ProductID, item.Quantity, models.ReservationReserved)
			if err != nil {
				return fmt.Errorf("failed to record reservation: %w", err)
			}

			updated = append(updated, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReleaseStock returns an order's outstanding reservations to available stock.
// Only reservations still held are released, so repeated calls are no-ops.
// When items is non-empty only those products are released.
func (s *Store) ReleaseStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	return s.settleReservations(ctx, orderID, items, models.ReservationReleased, `
		UPDATE inventory
		SET reserved_quantity = GREATEST(reserved_quantity - $1, 0), updated_at = NOW()
		WHERE product_id = $2
		RETURNING `+inventoryColumns)
}

// ConfirmStock turns an order's held reservations into a final deduction of
// both quantity and reserved quantity.
func (s *Store) ConfirmStock(ctx context.Context, orderID string, items []models.StockItem) ([]models.InventoryRecord, error) {
	return s.settleReservations(ctx, orderID, items, models.ReservationConfirmed, `
		UPDATE inventory
		SET quantity = GREATEST(quantity - $1, 0),
		    reserved_quantity = GREATEST(reserved_quantity - $1, 0),
		    updated_at = NOW()
		WHERE product_id = $2
		RETURNING `+inventoryColumns)
}

func (s *Store) settleReservations(ctx context.Context, orderID string, items []models.StockItem, to models.ReservationStatus, update string) ([]models.InventoryRecord, error) {
	var updated []models.InventoryRecord

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var held []models.Reservation
		err := tx.SelectContext(ctx, &held, `
			SELECT id, order_id, product_id, quantity, status, created_at, updated_at
			FROM inventory_reservations
			WHERE order_id = $1 AND status = $2
			ORDER BY product_id
			FOR UPDATE`,
			orderID, models.ReservationReserved)
		if err != nil {
			return fmt.Errorf("failed to load reservations: %w", err)
		}

		wanted := make(map[string]bool, len(items))
		for _, item := range items {
			wanted[item.ProductID] = true
		}

		for _, r := range held {
			if len(wanted) > 0 && !wanted[r.ProductID] {
				continue
			}

			if _, err := lockInventory(ctx, tx, r.ProductID); err != nil {
				return err
			}

			var rec models.InventoryRecord
			if err := tx.GetContext(ctx, &rec, update, r.Quantity, r.ProductID); err != nil {
				return fmt.Errorf("failed to update stock: %w", err)
			}

			_, err := tx.ExecContext(ctx,
				"UPDATE inventory_reservations SET status = $1, updated_at = NOW() WHERE id = $2",
				to, r.ID)
			if err != nil {
				return fmt.Errorf("failed to update reservation: %w", err)
			}

			updated = append(updated, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStockQuantity replaces the total quantity of a product under a row lock.
// It returns the record before and after the change.
func (s *Store) SetStockQuantity(ctx context.Context, productID string, quantity int) (before, after *models.InventoryRecord, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		rec, err := lockInventory(ctx, tx, productID)
		if err != nil {
			return err
		}
		if quantity < rec.ReservedQuantity {
			return apperror.Validation("quantity %d is below reserved quantity %d for product %s",
				quantity, rec.ReservedQuantity, productID)
		}
		before = rec

		var next models.InventoryRecord
		err = tx.GetContext(ctx, &next, `
			UPDATE inventory SET quantity = $1, updated_at = NOW()
			WHERE product_id = $2
			RETURNING `+inventoryColumns,
			quantity, productID)
		if err != nil {
			return fmt.Errorf("failed to update inventory: %w", err)
		}
		after = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}
