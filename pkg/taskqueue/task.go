// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue runs upload finalization in the background with
// at-least-once delivery.
//
// Supported backends:
// - Database (PostgreSQL via pgx, MySQL) - durable, shared by several workers
// - In-memory - single process, tasks are lost on restart
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
	DefaultRetryBackoff      = time.Second
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

const (
	// TaskTypeFinalize combines an upload's chunks and registers the item.
	TaskTypeFinalize TaskType = "finalize_upload"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting to be picked up
	StatusRunning    TaskStatus = "running"     // Currently being processed
	StatusCompleted  TaskStatus = "completed"   // Successfully finished
	StatusDeadLetter TaskStatus = "dead_letter" // Failed permanently
)

type TaskPriority int

const (
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
)

// Task represents a unit of work to be processed.
type Task struct {
	ID       string       `json:"id" db:"id"`
	Type     TaskType     `json:"type" db:"type"`
	Status   TaskStatus   `json:"status" db:"status"`
	Priority TaskPriority `json:"priority" db:"priority"`

	// Key ties the task to the entity it works on, e.g. a job id.
	Key string `json:"key,omitempty" db:"task_key"`

	// Payload - JSON encoded task-specific data
	Payload json.RawMessage `json:"payload" db:"payload"`

	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	Attempts   int       `json:"attempts" db:"attempts"`
	MaxRetries int       `json:"max_retries" db:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty" db:"retry_after"`

	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty" db:"worker_id"`
}

// TaskFilter for querying tasks.
type TaskFilter struct {
	Type   TaskType   `json:"type,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Key    string     `json:"key,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// QueueStats provides queue metrics.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"dead_letter"`

	ByType        map[TaskType]int64 `json:"by_type"`
	OldestPending *time.Time         `json:"oldest_pending,omitempty"`
}

// prepare fills the defaults every backend applies on enqueue.
func (t *Task) prepare(now time.Time, newID func() string) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// fail records a failed attempt and either schedules a retry after
// base * 2^(attempts-1) or dead-letters the task.
func (t *Task) fail(now time.Time, err error, base time.Duration) {
	t.Attempts++
	t.LastError = err.Error()
	t.UpdatedAt = now
	t.WorkerID = ""

	if t.Attempts >= t.MaxRetries {
		t.Status = StatusDeadLetter
		t.RetryAfter = time.Time{}
		return
	}
	t.Status = StatusPending
	t.RetryAfter = now.Add(base << (t.Attempts - 1))
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
