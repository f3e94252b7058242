package client

import (
	"context"
	"net/http"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

type stockRequest struct {
	OrderID string             `json:"order_id,omitempty"`
	Items   []models.StockItem `json:"items"`
}

// InventoryClient reaches a remote inventory service over HTTP. Verify is
// retried on transient failures; reserve and release are sent once.
type InventoryClient struct {
	c *httpClient
}

// NewInventoryClient creates a client for the inventory service at baseURL.
// transport may be nil.
func NewInventoryClient(baseURL string, policy *resilience.Policy, transport http.RoundTripper) *InventoryClient {
	return &InventoryClient{c: newHTTPClient(baseURL, policy, transport)}
}

func (ic *InventoryClient) Verify(ctx context.Context, items []models.StockItem) (*models.VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Verify")
	defer span.End()

	var result models.VerifyResult
	err := ic.c.policy.CallIdempotent(ctx, func(ctx context.Context) error {
		return ic.c.do(ctx, http.MethodPost, "/api/v1/inventory/verify", stockRequest{Items: items}, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (ic *InventoryClient) Reserve(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Reserve")
	defer span.End()

	err := ic.c.policy.Call(ctx, func(ctx context.Context) error {
		return ic.c.do(ctx, http.MethodPost, "/api/v1/inventory/reserve", stockRequest{OrderID: orderID, Items: items}, nil)
	})
	if err != nil {
		ic.c.logger.Warn("Remote reservation failed",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
	return err
}

func (ic *InventoryClient) Release(ctx context.Context, orderID string, items []models.StockItem) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Release")
	defer span.End()

	return ic.c.policy.Call(ctx, func(ctx context.Context) error {
		return ic.c.do(ctx, http.MethodPost, "/api/v1/inventory/release", stockRequest{OrderID: orderID, Items: items}, nil)
	})
}
