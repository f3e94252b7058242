package service

import (
	"context"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"
)

// LocalInventoryClient calls an in-process InventoryService through the same
// breaker and bulkhead a remote call would use. Verify is retried.
type LocalInventoryClient struct {
	inventory *InventoryService
	policy    *resilience.Policy
}

// NewLocalInventoryClient creates a new inventory client
func NewLocalInventoryClient(inventory *InventoryService, policy *resilience.Policy) *LocalInventoryClient {
	return &LocalInventoryClient{inventory: inventory, policy: policy}
}

func (c *LocalInventoryClient) Verify(ctx context.Context, items []models.StockItem) (*models.VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Verify")
	defer span.End()

	var result *models.VerifyResult
	err := c.policy.CallIdempotent(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inventory.Verify(ctx, items)
		return err
	})
	return result, err
}

func (c *LocalInventoryClient) Reserve(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	return c.policy.Call(ctx, func(ctx context.Context) error {
		return c.inventory.Reserve(ctx, orderID, items)
	})
}

func (c *LocalInventoryClient) Release(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	return c.policy.Call(ctx, func(ctx context.Context) error {
		return c.inventory.Release(ctx, orderID, items)
	})
}

// LocalOrderCallback reports payments to an in-process OrderService
type LocalOrderCallback struct {
	orders *OrderService
	policy *resilience.Policy
}

func NewLocalOrderCallback(orders *OrderService, policy *resilience.Policy) *LocalOrderCallback {
	return &LocalOrderCallback{orders: orders, policy: policy}
}

func (c *LocalOrderCallback) SetPaymentID(ctx context.Context, orderID, paymentID string) error {
	return c.policy.Call(ctx, func(ctx context.Context) error {
		return c.orders.UpdatePaymentID(ctx, orderID, paymentID)
	})
}
