package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// InventoryService owns per-product stock and the reservations held against it
type InventoryService struct {
	repo              InventoryRepository
	publisher         Publisher
	lowStockThreshold int
	logger            *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(repo InventoryRepository, publisher Publisher, lowStockThreshold int) *InventoryService {
	return &InventoryService{
		repo:              repo,
		publisher:         publisher,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

func validateStockItems(items []models.StockItem) error {
	if len(items) == 0 {
		return apperror.Validation("items must not be empty")
	}
	for _, item := range items {
		if item.ProductID == "" {
			return apperror.Validation("product_id is required")
		}
		if item.Quantity <= 0 {
			return apperror.Validation("quantity for product %s must be positive", item.ProductID)
		}
	}
	return nil
}

func (s *InventoryService) publish(ctx context.Context, payload models.Payload) {
	event := models.NewEvent(payload, InventoryServiceName, util.CorrelationID(ctx))
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish inventory event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// Create registers stock for a new product
func (s *InventoryService) Create(ctx context.Context, productID string, quantity int, location string) (*models.InventoryRecord, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Create")
	defer span.End()

	if productID == "" {
		return nil, apperror.Validation("product_id is required")
	}
	if quantity < 0 {
		return nil, apperror.Validation("quantity must not be negative")
	}

	rec := &models.InventoryRecord{
		ProductID:         productID,
		Quantity:          quantity,
		WarehouseLocation: location,
	}
	if err := s.repo.CreateInventory(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("Inventory created",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity))

	s.publish(ctx, &models.InventoryCreated{
		ProductID:         productID,
		Quantity:          quantity,
		WarehouseLocation: location,
	})
	return rec, nil
}

// Get retrieves stock for a product
func (s *InventoryService) Get(ctx context.Context, productID string) (*models.InventoryRecord, error) {
	return s.repo.GetInventory(ctx, productID)
}

// List retrieves stock for all products
func (s *InventoryService) List(ctx context.Context) ([]models.InventoryRecord, error) {
	return s.repo.ListInventory(ctx)
}

// Verify checks availability without holding anything. The answer may be
// stale by the time Reserve runs.
func (s *InventoryService) Verify(ctx context.Context, items []models.StockItem) (*models.VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Verify")
	defer span.End()

	if err := validateStockItems(items); err != nil {
		return nil, err
	}

	requested := make(map[string]int, len(items))
	for _, item := range items {
		requested[item.ProductID] += item.Quantity
	}

	for _, item := range items {
		qty, ok := requested[item.ProductID]
		if !ok {
			continue
		}
		delete(requested, item.ProductID)

		rec, err := s.repo.GetInventory(ctx, item.ProductID)
		if apperror.IsNotFound(err) {
			return &models.VerifyResult{Reason: fmt.Sprintf("product %s not found", item.ProductID)}, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Available() < qty {
			return &models.VerifyResult{
				Reason: fmt.Sprintf("insufficient stock for product %s: available=%d, requested=%d",
					item.ProductID, rec.Available(), qty),
			}, nil
		}
	}

	return &models.VerifyResult{Available: true}, nil
}

// Reserve holds stock for every item of an order, all or nothing. Reserving
// again for the same order is a no-op.
func (s *InventoryService) Reserve(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer span.End()

	if orderID == "" {
		return apperror.Validation("order_id is required")
	}
	if err := validateStockItems(items); err != nil {
		return err
	}

	start := time.Now()
	updated, err := s.repo.ReserveStock(ctx, orderID, items)
	util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if apperror.IsValidation(err) {
			reason = "insufficient_stock"
		}
		util.InventoryReservationsFailed.WithLabelValues(reason).Inc()
		return err
	}

	if len(updated) == 0 {
		s.logger.Info("Order already holds reservations", zap.String("order_id", orderID))
		return nil
	}

	s.logger.Info("Stock reserved", zap.String("order_id", orderID), zap.Int("products", len(updated)))
	s.publish(ctx, &models.InventoryReserved{OrderID: orderID, Items: items})
	return nil
}

// Release returns an order's held stock. Repeated calls change nothing.
func (s *InventoryService) Release(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer span.End()

	if orderID == "" {
		return apperror.Validation("order_id is required")
	}

	updated, err := s.repo.ReleaseStock(ctx, orderID, items)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return nil
	}

	s.logger.Info("Stock released", zap.String("order_id", orderID), zap.Int("products", len(updated)))
	s.publish(ctx, &models.InventoryReleased{OrderID: orderID, Items: items})
	return nil
}

// ConfirmUsage turns an order's reservations into a sale
func (s *InventoryService) ConfirmUsage(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.ConfirmUsage")
	defer span.End()

	if orderID == "" {
		return apperror.Validation("order_id is required")
	}

	updated, err := s.repo.ConfirmStock(ctx, orderID, items)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return nil
	}

	s.publish(ctx, &models.InventoryConfirmed{OrderID: orderID, Items: items})

	for _, rec := range updated {
		if rec.Available() > 0 {
			continue
		}
		util.InventoryAlertsTotal.WithLabelValues("out_of_stock").Inc()
		s.logger.Warn("Product out of stock", zap.String("product_id", rec.ProductID))
		s.publish(ctx, &models.InventoryOutOfStock{ProductID: rec.ProductID, OrderID: orderID})
	}
	return nil
}

// UpdateQuantity restocks or corrects a product's total quantity. It may not
// drop below what is already reserved.
func (s *InventoryService) UpdateQuantity(ctx context.Context, productID string, quantity int) (*models.InventoryRecord, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpdateQuantity")
	defer span.End()

	if quantity < 0 {
		return nil, apperror.Validation("quantity must not be negative")
	}

	before, after, err := s.repo.SetStockQuantity(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, &models.InventoryUpdated{
		ProductID:         productID,
		PreviousQuantity:  before.Quantity,
		NewQuantity:       after.Quantity,
		AvailableQuantity: after.Available(),
	})

	if after.Available() < s.lowStockThreshold {
		util.InventoryAlertsTotal.WithLabelValues("low_stock").Inc()
		s.logger.Warn("Low stock",
			zap.String("product_id", productID),
			zap.Int("available", after.Available()))
		s.publish(ctx, &models.InventoryLowStock{
			ProductID:         productID,
			AvailableQuantity: after.Available(),
			Threshold:         s.lowStockThreshold,
		})
	}
	return after, nil
}
