// Package webhook implements the built-in handler that delivers an operation
// as an outbound HTTP request described by the operation payload.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/tether/internal/handler"
)

const (
	// Kind is the operation kind served by this handler.
	Kind = "webhook"

	defaultClientTimeout = 60 * time.Second

	// maxResponseBytes caps how much of the response body is kept as the
	// operation result.
	maxResponseBytes = 64 << 10 // 64 KB
)

// request is the expected shape of a webhook operation payload.
type request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Handler delivers operations as outbound HTTP requests.
type Handler struct {
	client *http.Client
}

// Compile-time interface satisfaction check.
var _ handler.Handler = (*Handler)(nil)

// New creates a webhook handler with a default HTTP client. The per-request
// deadline comes from the operation context; the client timeout is only a
// backstop.
func New() *Handler {
	return &Handler{
		client: &http.Client{Timeout: defaultClientTimeout},
	}
}

// NewWithClient creates a webhook handler using the given HTTP client.
func NewWithClient(client *http.Client) *Handler {
	return &Handler{client: client}
}

// Execute performs the HTTP request described by the operation payload and
// returns the response status and a truncated response body. Any received
// response counts as success; the status code is reported in the result for
// the caller to interpret. Transport failures and context cancellation are
// errors.
func (h *Handler) Execute(ctx context.Context, spec handler.OperationSpec) (handler.OperationResult, error) {
	var req request
	if err := json.Unmarshal(spec.Payload, &req); err != nil {
		return handler.OperationResult{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	if req.URL == "" {
		return handler.OperationResult{}, fmt.Errorf("webhook payload is missing url")
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = bytes.NewReader([]byte(req.Body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return handler.OperationResult{}, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		requestsTotal.WithLabelValues(outcomeError).Inc()
		return handler.OperationResult{}, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		requestsTotal.WithLabelValues(outcomeError).Inc()
		return handler.OperationResult{}, fmt.Errorf("read webhook response: %w", err)
	}

	requestDuration.Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(outcomeDelivered).Inc()

	return handler.OperationResult{
		Code:   resp.StatusCode,
		Output: out,
	}, nil
}

// Capabilities reports what the webhook handler supports.
func (h *Handler) Capabilities() handler.Capabilities {
	return handler.Capabilities{
		Name:           Kind,
		Description:    "delivers the operation payload as an outbound HTTP request",
		MaxConcurrency: 0, // unbounded; the dispatcher owns concurrency
	}
}
