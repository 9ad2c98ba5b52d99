package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/tether/internal/model"

	_ "modernc.org/sqlite"
)

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    status      TEXT NOT NULL,
    payload     BLOB,
    result      BLOB,
    code        INTEGER,
    error       TEXT,
    timeout_ms  INTEGER,
    overrun_ms  INTEGER,
    duration_ms INTEGER,
    deadline    DATETIME NOT NULL,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createTransitionsTable = `
CREATE TABLE IF NOT EXISTS transitions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    from_status  TEXT NOT NULL,
    to_status    TEXT NOT NULL,
    detail       TEXT,
    created_at   DATETIME NOT NULL
)`

// ErrNotFound is returned when an operation is not found.
var ErrNotFound = errors.New("operation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createOperationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create operations table: %w", err)
	}

	if _, err := db.Exec(createTransitionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transitions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOperation inserts a new operation record.
func (s *SQLiteStore) CreateOperation(ctx context.Context, op *model.Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (
			id, kind, status, payload, result, code, error,
			timeout_ms, overrun_ms, duration_ms, deadline,
			created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.Kind, op.Status, []byte(op.Payload), op.Result, op.Code, op.Error,
		op.TimeoutMS, op.OverrunMS, op.DurationMS, op.Deadline,
		op.CreatedAt, op.StartedAt, op.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID.
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, payload, result, code, error,
			timeout_ms, overrun_ms, duration_ms, deadline,
			created_at, started_at, finished_at
		FROM operations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns a paginated list of operations ordered by created_at
// DESC, along with the total count of all operations.
func (s *SQLiteStore) ListOperations(ctx context.Context, limit, offset int) ([]*model.Operation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count operations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, kind, status, payload, result, code, error,
			timeout_ms, overrun_ms, duration_ms, deadline,
			created_at, started_at, finished_at
		FROM operations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate operations: %w", err)
	}

	return ops, total, nil
}

// UpdateOperationStatus updates the status of an operation, enforcing the
// model transition table. For terminal statuses it also sets finished_at.
func (s *SQLiteStore) UpdateOperationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM operations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if model.TerminalStatus(status) {
		_, err = tx.ExecContext(ctx,
			"UPDATE operations SET status = ?, finished_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE operations SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update operation status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

// UpdateOperation updates the mutable fields of an operation record. Used by
// the dispatcher to persist terminal results.
func (s *SQLiteStore) UpdateOperation(ctx context.Context, op *model.Operation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE operations SET
			status = ?, result = ?, code = ?, error = ?,
			overrun_ms = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		op.Status, op.Result, op.Code, op.Error,
		op.OverrunMS, op.DurationMS, op.StartedAt, op.FinishedAt,
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetOperationStats computes aggregate statistics over all operations.
func (s *SQLiteStore) GetOperationStats(ctx context.Context) (*OperationStats, error) {
	stats := &OperationStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM operations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	rows, err = tx.QueryContext(ctx, "SELECT kind, COUNT(*) FROM operations GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		stats.CountByKind[kind] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind counts: %w", err)
	}

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM operations WHERE duration_ms IS NOT NULL",
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// InsertTransition records a single status change of an operation.
func (s *SQLiteStore) InsertTransition(ctx context.Context, operationID string, seq int, from, to, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (operation_id, seq, from_status, to_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		operationID, seq, from, to, detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// GetTransitions returns the status history of an operation in recorded order.
func (s *SQLiteStore) GetTransitions(ctx context.Context, operationID string) ([]model.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, seq, from_status, to_status, detail, created_at
		FROM transitions WHERE operation_id = ? ORDER BY seq ASC`, operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get transitions: %w", err)
	}
	defer rows.Close()

	var transitions []model.Transition
	for rows.Next() {
		var tr model.Transition
		if err := rows.Scan(&tr.ID, &tr.OperationID, &tr.Seq, &tr.From, &tr.To, &tr.Detail, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	return transitions, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanOperation.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*model.Operation, error) {
	op := &model.Operation{}
	var payload []byte
	err := row.Scan(
		&op.ID, &op.Kind, &op.Status, &payload, &op.Result, &op.Code, &op.Error,
		&op.TimeoutMS, &op.OverrunMS, &op.DurationMS, &op.Deadline,
		&op.CreatedAt, &op.StartedAt, &op.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Payload = payload
	return op, nil
}
