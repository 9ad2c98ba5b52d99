// testserver starts a tether API server with stub handlers for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/tether/internal/api"
	"github.com/seantiz/tether/internal/dispatch"
	"github.com/seantiz/tether/internal/handler"
	"github.com/seantiz/tether/internal/store"
)

// stubHandler is a configurable mock handler for E2E tests.
type stubHandler struct {
	name   string
	delay  time.Duration
	output []byte
	err    error
}

func (s *stubHandler) Execute(ctx context.Context, _ handler.OperationSpec) (handler.OperationResult, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return handler.OperationResult{}, ctx.Err()
	}
	if s.err != nil {
		return handler.OperationResult{}, s.err
	}
	return handler.OperationResult{
		Code:   0,
		Output: s.output,
	}, nil
}

func (s *stubHandler) Capabilities() handler.Capabilities {
	return handler.Capabilities{
		Name:           s.name,
		Description:    "stub handler for E2E tests",
		MaxConcurrency: 10,
	}
}

func main() {
	addr := ":8080"
	if v := os.Getenv("TETHER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := handler.NewRegistry()
	reg.Register("echo", &stubHandler{
		name:   "stub-echo",
		delay:  100 * time.Millisecond,
		output: []byte("hello from echo"),
	})
	reg.Register("slow", &stubHandler{
		name:   "stub-slow",
		delay:  30 * time.Second,
		output: []byte("finally"),
	})
	reg.Register("flaky", &stubHandler{
		name:  "stub-flaky",
		delay: 100 * time.Millisecond,
		err:   errors.New("stub failure"),
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	d := dispatch.New(db, reg, logger, dispatch.Options{
		SweepInterval: 50 * time.Millisecond,
	})
	d.Start()
	defer d.Close()

	srv := api.NewServer(addr, db, reg, d, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
