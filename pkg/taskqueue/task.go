// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides a durable task queue for background processing.
//
// Supported backends:
// - PostgreSQL - default, uses FOR UPDATE SKIP LOCKED for concurrent workers
// - In-memory - for testing only
//
// Use cases:
// - Enrichment extraction jobs after upload completion
// - Type-specific tagging jobs (image / document / generic)
package taskqueue

import (
	"encoding/json"
	"time"
)

// Default configuration values
const (
	DefaultPollInterval      = time.Second
	DefaultConcurrency       = 5
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

// Enrichment pipeline task types. Extraction fans out to exactly one of the
// three tagging types, selected once by mime type at the end of extraction.
const (
	TaskTypeExtract     TaskType = "enrich_extract"
	TaskTypeTagImage    TaskType = "enrich_tag_image"
	TaskTypeTagDocument TaskType = "enrich_tag_document"
	TaskTypeTagGeneric  TaskType = "enrich_tag_generic"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting to be picked up
	StatusRunning    TaskStatus = "running"     // Currently being processed
	StatusCompleted  TaskStatus = "completed"   // Successfully finished
	StatusFailed     TaskStatus = "failed"      // Failed, may retry
	StatusDeadLetter TaskStatus = "dead_letter" // Failed permanently
)

// Task represents a unit of work to be processed.
type Task struct {
	ID     string     `json:"id"`
	Type   TaskType   `json:"type"`
	Status TaskStatus `json:"status"`

	// Payload - JSON encoded task-specific data
	Payload json.RawMessage `json:"payload"`

	// Scheduling
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Retry handling
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty"`

	// Error tracking
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// QueueStats provides queue metrics.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`

	ByType map[TaskType]int64 `json:"by_type"`

	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// MarshalPayload is a helper to marshal a payload struct to JSON.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload is a helper to unmarshal a JSON payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
