package handler

import (
	"context"
	"time"
)

// Handler executes one kind of asynchronous operation. Implementations must
// honor the context: its deadline reflects the operation's deadline, and it
// is cancelled when the operation is cancelled or force-failed, which is the
// cooperative interruption channel.
type Handler interface {
	// Execute runs the operation described by spec and returns its result.
	Execute(ctx context.Context, spec OperationSpec) (OperationResult, error)

	// Capabilities reports what this handler supports.
	Capabilities() Capabilities
}

// OperationSpec describes an operation to be executed by a handler.
type OperationSpec struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Payload  []byte    `json:"payload"`
	Deadline time.Time `json:"deadline"`
}

// OperationResult holds the output produced by a handler.
type OperationResult struct {
	// Code is a handler-specific result code (e.g. an HTTP status).
	Code   int    `json:"code"`
	Output []byte `json:"output,omitempty"`
}

// Capabilities describes what a handler supports.
type Capabilities struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	MaxConcurrency int    `json:"max_concurrency"`
}
