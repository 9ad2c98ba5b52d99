package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/tether/internal/dispatch"
	"github.com/seantiz/tether/internal/handler"
	"github.com/seantiz/tether/internal/store"
)

// sleepHandler is a mock handler whose executions block for a fixed delay.
type sleepHandler struct {
	delay  time.Duration
	output []byte
}

func (h *sleepHandler) Execute(ctx context.Context, _ handler.OperationSpec) (handler.OperationResult, error) {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return handler.OperationResult{}, ctx.Err()
	}
	return handler.OperationResult{Code: 0, Output: h.output}, nil
}

func (h *sleepHandler) Capabilities() handler.Capabilities {
	return handler.Capabilities{Name: "sleep", Description: "blocks for a fixed delay"}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := handler.NewRegistry()
	reg.Register("sleep", &sleepHandler{delay: 5 * time.Millisecond, output: []byte("done")})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := dispatch.New(s, reg, logger, dispatch.Options{SweepInterval: 10 * time.Millisecond})
	d.Start()
	t.Cleanup(d.Close)

	return NewServer(":0", s, reg, d, logger)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest("OPTIONS", ts.URL+"/v1/operations", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
}
