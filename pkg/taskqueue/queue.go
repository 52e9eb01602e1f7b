// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrQueueClosed  = errors.New("task queue is closed")
	// ErrPermanent marks handler errors that must not be retried.
	ErrPermanent = errors.New("permanent task failure")
)

// Queue defines the interface for task queue operations.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the next available task for workerID. Running tasks
	// whose heartbeat is older than the visibility timeout are reclaimed.
	// Returns nil if no tasks are available.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	// Complete marks a task as successfully completed.
	Complete(ctx context.Context, taskID string) error

	// Fail records a failed attempt. The task is retried later unless it
	// ran out of retries or err wraps ErrPermanent.
	Fail(ctx context.Context, taskID string, err error) error

	// Heartbeat extends the visibility timeout for a running task.
	Heartbeat(ctx context.Context, taskID string, workerID string) error

	Get(ctx context.Context, taskID string) (*Task, error)

	List(ctx context.Context, filter TaskFilter) ([]*Task, error)

	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup removes completed tasks older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes tasks of a specific type.
type Handler interface {
	// Type returns the task type this handler processes.
	Type() TaskType

	// Handle processes the task and returns an error if it failed.
	Handle(ctx context.Context, task *Task) error
}
