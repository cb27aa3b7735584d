// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
)

// Compile-time interface verification
var _ Queue = (*PGQueue)(nil)

// PGSchema creates the tasks table. Applied by the server at startup.
const PGSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB NOT NULL DEFAULT '{}',
	scheduled_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	attempts     INT NOT NULL DEFAULT 0,
	max_retries  INT NOT NULL DEFAULT 3,
	retry_after  TIMESTAMPTZ,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	worker_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_tasks_pending ON tasks (status, scheduled_at);
`

// PGQueue is a PostgreSQL-backed implementation of Queue for durable,
// distributed task storage. Multiple concurrent workers are supported via
// FOR UPDATE SKIP LOCKED; tasks stuck in running longer than the visibility
// timeout are reclaimed on dequeue.
type PGQueue struct {
	pool              *pgxpool.Pool
	visibilityTimeout time.Duration
}

// PGQueueConfig configures the Postgres queue.
type PGQueueConfig struct {
	Pool *pgxpool.Pool

	// VisibilityTimeout is how long a task may stay running before being
	// considered abandoned (default: 5m).
	VisibilityTimeout time.Duration
}

// NewPGQueue creates a new Postgres-backed queue.
func NewPGQueue(cfg PGQueueConfig) (*PGQueue, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &PGQueue{
		pool:              cfg.Pool,
		visibilityTimeout: cfg.VisibilityTimeout,
	}, nil
}

// Migrate applies the tasks schema.
func (q *PGQueue) Migrate(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, PGSchema); err != nil {
		return fmt.Errorf("migrate tasks: %w", err)
	}
	return nil
}

func (q *PGQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	now := time.Now()
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := q.pool.Exec(ctx, `
		INSERT INTO tasks (id, type, status, payload, scheduled_at,
			attempts, max_retries, created_at, updated_at, worker_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Type, task.Status, task.Payload, task.ScheduledAt,
		task.Attempts, task.MaxRetries, task.CreatedAt, task.UpdatedAt, task.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *PGQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	types := make([]string, len(taskTypes))
	for i, t := range taskTypes {
		types[i] = string(t)
	}

	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback(ctx)

	// Pending tasks that are due, plus running tasks whose worker went
	// silent past the visibility timeout.
	row := tx.QueryRow(ctx, `
		SELECT id, type, status, payload, scheduled_at, started_at, completed_at,
			attempts, max_retries, retry_after, last_error, created_at, updated_at, worker_id
		FROM tasks
		WHERE ((status = 'pending' AND scheduled_at <= now()
				AND (retry_after IS NULL OR retry_after <= now()))
			OR (status = 'running' AND updated_at <= now() - $1::interval))
			AND ($2::text[] = '{}' OR type = ANY($2))
		ORDER BY scheduled_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		q.visibilityTimeout.String(), types,
	)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE tasks SET status = 'running', worker_id = $2, started_at = $3, updated_at = $3
		WHERE id = $1`,
		task.ID, workerID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}

	task.Status = StatusRunning
	task.WorkerID = workerID
	task.StartedAt = &now
	task.UpdatedAt = now
	return task, nil
}

func (q *PGQueue) Complete(ctx context.Context, taskID string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *PGQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	task.Attempts++
	if task.Attempts >= task.MaxRetries {
		_, err = q.pool.Exec(ctx, `
			UPDATE tasks SET status = 'dead_letter', attempts = $2, last_error = $3, updated_at = now()
			WHERE id = $1`,
			taskID, task.Attempts, taskErr.Error())
	} else {
		backoff := time.Duration(1<<task.Attempts) * time.Second
		_, err = q.pool.Exec(ctx, `
			UPDATE tasks SET status = 'pending', attempts = $2, last_error = $3,
				retry_after = $4, worker_id = '', updated_at = now()
			WHERE id = $1`,
			taskID, task.Attempts, taskErr.Error(), time.Now().Add(backoff))
		TaskRetries.WithLabelValues(string(task.Type)).Inc()
	}
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

func (q *PGQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT id, type, status, payload, scheduled_at, started_at, completed_at,
			attempts, max_retries, retry_after, last_error, created_at, updated_at, worker_id
		FROM tasks WHERE id = $1`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (q *PGQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: make(map[TaskType]int64)}

	rows, err := q.pool.Query(ctx, `
		SELECT type, status, count(*), min(scheduled_at) FILTER (WHERE status = 'pending')
		FROM tasks GROUP BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskType TaskType
		var status TaskStatus
		var count int64
		var oldest *time.Time
		if err := rows.Scan(&taskType, &status, &count, &oldest); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}

		switch status {
		case StatusPending:
			stats.Pending += count
			if oldest != nil && (stats.OldestPending == nil || oldest.Before(*stats.OldestPending)) {
				stats.OldestPending = oldest
			}
		case StatusRunning:
			stats.Running += count
		case StatusCompleted:
			stats.Completed += count
		case StatusFailed:
			stats.Failed += count
		case StatusDeadLetter:
			stats.DeadLetter += count
		}
		stats.ByType[taskType] += count
	}
	return stats, rows.Err()
}

func (q *PGQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'dead_letter') AND completed_at < now() - $1::interval`,
		olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *PGQueue) Close() error {
	// Pool lifetime is owned by the caller.
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var task Task
	var retryAfter *time.Time
	err := row.Scan(&task.ID, &task.Type, &task.Status, &task.Payload,
		&task.ScheduledAt, &task.StartedAt, &task.CompletedAt,
		&task.Attempts, &task.MaxRetries, &retryAfter, &task.LastError,
		&task.CreatedAt, &task.UpdatedAt, &task.WorkerID)
	if err != nil {
		return nil, err
	}
	if retryAfter != nil {
		task.RetryAfter = *retryAfter
	}
	return &task, nil
}
