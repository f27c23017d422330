// Package queue contains the durable offline operation queue.
// Each queued row records one not-yet-confirmed user intent (trip start or
// completion). No business logic lives here — only SQL and type mapping.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/minex/haulsync/internal/domain"
)

// Queue defines the persistence operations for offline operations.
// The sync engine and the foreground trip service depend on this interface,
// not the concrete SQLite implementation, which allows them to be
// unit-tested with a mock.
type Queue interface {
	// Append persists a new operation atomically and returns it with its
	// assigned ID. Insertion order is the replay order.
	Append(ctx context.Context, op domain.Operation) (domain.Operation, error)

	// ReadAll returns every queued operation in insertion order.
	ReadAll(ctx context.Context) ([]domain.Operation, error)

	// ReplaceAll atomically overwrites the persisted set, preserving the
	// order of ops. Used after a sync pass to drop resolved entries and
	// keep unresolved ones. If the write fails mid-way the prior durable
	// state remains intact.
	ReplaceAll(ctx context.Context, ops []domain.Operation) error
}

// sqliteQueue is the SQLite implementation of Queue.
type sqliteQueue struct {
	db *sql.DB
}

// New constructs a Queue backed by the provided database.
// The schema must already be migrated (see the local package).
func New(db *sql.DB) Queue {
	return &sqliteQueue{db: db}
}

// Append inserts one operation row.
func (q *sqliteQueue) Append(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	const stmt = `
		INSERT INTO offline_queue (action, payload, queued_at)
		VALUES (?, ?, ?)`

	if op.QueuedAt.IsZero() {
		op.QueuedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, stmt, string(op.Action), string(op.Payload), op.QueuedAt.Format(time.RFC3339Nano))
	if err != nil {
		return domain.Operation{}, fmt.Errorf("queue.Queue.Append: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return domain.Operation{}, fmt.Errorf("queue.Queue.Append: last insert id: %w", err)
	}
	return op, nil
}

// ReadAll returns the queue in insertion (rowid) order.
func (q *sqliteQueue) ReadAll(ctx context.Context) ([]domain.Operation, error) {
	const stmt = `
		SELECT id, action, payload, queued_at
		FROM offline_queue
		ORDER BY id`

	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("queue.Queue.ReadAll: %w", err)
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("queue.Queue.ReadAll: scan: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue.Queue.ReadAll: rows: %w", err)
	}
	return ops, nil
}

// ReplaceAll overwrites the queue inside one transaction. Retained
// operations get fresh rowids but keep their relative order and queued_at,
// so the replay order across restarts is unchanged.
func (q *sqliteQueue) ReplaceAll(ctx context.Context, ops []domain.Operation) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("queue.Queue.ReplaceAll: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue`); err != nil {
		return fmt.Errorf("queue.Queue.ReplaceAll: clear: %w", err)
	}

	const stmt = `
		INSERT INTO offline_queue (action, payload, queued_at)
		VALUES (?, ?, ?)`
	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, stmt, string(op.Action), string(op.Payload), op.QueuedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("queue.Queue.ReplaceAll: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("queue.Queue.ReplaceAll: commit: %w", err)
	}
	return nil
}

// scanOperation maps one offline_queue row to a domain.Operation.
func scanOperation(rows *sql.Rows) (domain.Operation, error) {
	var (
		op       domain.Operation
		action   string
		payload  string
		queuedAt string
	)
	if err := rows.Scan(&op.ID, &action, &payload, &queuedAt); err != nil {
		return domain.Operation{}, err
	}
	op.Action = domain.Action(action)
	op.Payload = []byte(payload)

	t, err := time.Parse(time.RFC3339Nano, queuedAt)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("parse queued_at: %w", err)
	}
	op.QueuedAt = t
	return op, nil
}
