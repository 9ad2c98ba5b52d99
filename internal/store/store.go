package store

import (
	"context"
	"errors"

	"github.com/seantiz/tether/internal/model"
)

// ErrInvalidTransition is returned when an operation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// OperationStats holds aggregate operation statistics.
type OperationStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for asynchronous operations.
type Store interface {
	CreateOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error)
	UpdateOperationStatus(ctx context.Context, id, status string) error
	UpdateOperation(ctx context.Context, op *model.Operation) error
	GetOperationStats(ctx context.Context) (*OperationStats, error)
	InsertTransition(ctx context.Context, operationID string, seq int, from, to, detail string) error
	GetTransitions(ctx context.Context, operationID string) ([]model.Transition, error)
	Close() error
}
