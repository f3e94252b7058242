package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(name string) *resilience.Policy {
	return resilience.NewPolicy(resilience.PolicyConfig{
		Breaker:        resilience.DefaultBreakerSettings(name),
		RetryBaseDelay: time.Millisecond,
		MaxRetries:     2,
		BulkheadSize:   4,
		BulkheadQueue:  4,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestVerifySendsItemsAndCorrelationID(t *testing.T) {
	var gotCorrelation string
	var got stockRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/inventory/verify", r.URL.Path)
		gotCorrelation = r.Header.Get(util.CorrelationHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, models.VerifyResult{Available: false, Reason: "insufficient stock"})
	}))
	defer srv.Close()

	ic := NewInventoryClient(srv.URL, testPolicy("inv-verify"), nil)
	ctx := util.WithCorrelationID(context.Background(), "corr-42")

	result, err := ic.Verify(ctx, []models.StockItem{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)
	assert.False(t, result.Available)
	assert.Equal(t, "insufficient stock", result.Reason)
	assert.Equal(t, "corr-42", gotCorrelation)
	assert.Equal(t, []models.StockItem{{ProductID: "P1", Quantity: 2}}, got.Items)
}

func TestVerifyRetriesUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: apperror.CodeTransient, Message: "busy"})
			return
		}
		writeJSON(w, http.StatusOK, models.VerifyResult{Available: true})
	}))
	defer srv.Close()

	ic := NewInventoryClient(srv.URL, testPolicy("inv-retry"), nil)
	result, err := ic.Verify(context.Background(), []models.StockItem{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, result.Available)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestReserveIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: apperror.CodeTransient, Message: "busy"})
	}))
	defer srv.Close()

	ic := NewInventoryClient(srv.URL, testPolicy("inv-reserve"), nil)
	err := ic.Reserve(context.Background(), "order-1", []models.StockItem{{ProductID: "P1", Quantity: 1}})
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestErrorBodiesMapBackToCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		check  func(error) bool
	}{
		{"validation", http.StatusBadRequest, errorBody{Code: apperror.CodeValidation, Message: "insufficient stock"}, apperror.IsValidation},
		{"conflict", http.StatusConflict, errorBody{Code: apperror.CodeConflict, Message: "dup"}, apperror.IsConflict},
		{"not found without body", http.StatusNotFound, nil, apperror.IsNotFound},
		{"bad gateway", http.StatusBadGateway, nil, apperror.IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			ic := NewInventoryClient(srv.URL, testPolicy("inv-"+tt.name), nil)
			err := ic.Release(context.Background(), "order-1", nil)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}

	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(`{"code":"CONFLICT","message":"dup"}`), &body))
	assert.Equal(t, apperror.CodeConflict, body.Code)
}

func TestUnreachableServiceIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ic := NewInventoryClient(url, testPolicy("inv-down"), nil)
	err := ic.Reserve(context.Background(), "order-1", []models.StockItem{{ProductID: "P1", Quantity: 1}})
	assert.True(t, apperror.IsTransient(err))
}

func TestOrderCallbackSetsPaymentID(t *testing.T) {
	var gotPath, gotMethod, gotPayment string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		var body struct {
			PaymentID string `json:"payment_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPayment = body.PaymentID
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	oc := NewOrderCallback(srv.URL+"/", testPolicy("order-cb"), nil)
	require.NoError(t, oc.SetPaymentID(context.Background(), "order-1", "pay-1"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/api/v1/orders/order-1/payment", gotPath)
	assert.Equal(t, "pay-1", gotPayment)
}
