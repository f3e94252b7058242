package client

import (
	"context"
	"net/http"
	"net/url"

	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"
)

// OrderCallback reports settled payments to a remote order service
type OrderCallback struct {
	c *httpClient
}

func NewOrderCallback(baseURL string, policy *resilience.Policy, transport http.RoundTripper) *OrderCallback {
	return &OrderCallback{c: newHTTPClient(baseURL, policy, transport)}
}

// SetPaymentID is idempotent on the order side, so it is retried.
func (oc *OrderCallback) SetPaymentID(ctx context.Context, orderID, paymentID string) error {
	ctx, span := util.StartSpan(ctx, "OrderCallback.SetPaymentID")
	defer span.End()

	body := struct {
		PaymentID string `json:"payment_id"`
	}{paymentID}

	return oc.c.policy.CallIdempotent(ctx, func(ctx context.Context) error {
		return oc.c.do(ctx, http.MethodPut, "/api/v1/orders/"+url.PathEscape(orderID)+"/payment", body, nil)
	})
}
