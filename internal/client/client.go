package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// errorBody is the {code, message} shape every service answers errors with
type errorBody struct {
	Code    apperror.Code `json:"code"`
	Message string        `json:"message"`
}

// httpClient is the JSON plumbing shared by the peer clients. Requests carry
// the correlation id and trace context of ctx.
type httpClient struct {
	baseURL string
	http    *http.Client
	policy  *resilience.Policy
	logger  *zap.Logger
}

func newHTTPClient(baseURL string, policy *resilience.Policy, transport http.RoundTripper) *httpClient {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(transport)},
		policy:  policy,
		logger:  util.GetLogger(),
	}
}

// do sends one request. out may be nil.
func (c *httpClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := util.CorrelationID(ctx); id != "" {
		req.Header.Set(util.CorrelationHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Transient(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx answer back into an apperror. Gateway and
// availability failures are transient whatever the body says.
func decodeError(resp *http.Response) error {
	var e errorBody
	_ = json.NewDecoder(resp.Body).Decode(&e)
	if e.Message == "" {
		e.Message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusGatewayTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return apperror.Transient(nil, "%s", e.Message)
	case e.Code != "":
		return &apperror.Error{Code: e.Code, Message: e.Message}
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NotFound("%s", e.Message)
	case resp.StatusCode == http.StatusConflict:
		return apperror.Conflict("%s", e.Message)
	case resp.StatusCode < 500:
		return apperror.Validation("%s", e.Message)
	default:
		return apperror.Internal(nil, "%s", e.Message)
	}
}
