// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory Queue for tests and single-node runs.
// NOT for production use - tasks are not persisted.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	visibilityTimeout time.Duration
	retryBackoff      time.Duration
	heartbeats        map[string]time.Time
}

// MemoryQueueConfig configures the in-memory queue.
type MemoryQueueConfig struct {
	VisibilityTimeout time.Duration
	RetryBackoff      time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return NewMemoryQueueWithConfig(MemoryQueueConfig{})
}

func NewMemoryQueueWithConfig(cfg MemoryQueueConfig) *MemoryQueue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &MemoryQueue{
		tasks:             make(map[string]*Task),
		heartbeats:        make(map[string]time.Time),
		visibilityTimeout: cfg.VisibilityTimeout,
		retryBackoff:      cfg.RetryBackoff,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	task.prepare(time.Now(), uuid.NewString)
	cp := *task
	q.tasks[task.ID] = &cp
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	stale := now.Add(-q.visibilityTimeout)
	var best *Task

	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			if task.ScheduledAt.After(now) {
				continue
			}
			if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
				continue
			}
		case StatusRunning:
			// worker went away without heartbeating
			if !q.heartbeats[task.ID].Before(stale) {
				continue
			}
		default:
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}

		// Highest priority, oldest first
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}

	if best == nil {
		return nil, nil
	}

	if best.Status == StatusRunning {
		best.Attempts++
	}
	best.Status = StatusRunning
	best.WorkerID = workerID
	started := now
	best.StartedAt = &started
	best.UpdatedAt = now
	q.heartbeats[best.ID] = now

	cp := *best
	return &cp, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	delete(q.heartbeats, taskID)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	task.fail(time.Now(), err, q.retryBackoff)
	if errors.Is(err, ErrPermanent) {
		task.Status = StatusDeadLetter
		task.RetryAfter = time.Time{}
	}
	delete(q.heartbeats, taskID)
	return nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.WorkerID != workerID || task.Status != StatusRunning {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.UpdatedAt = now
	q.heartbeats[taskID] = now
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Key != "" && task.Key != filter.Key {
			continue
		}
		cp := *task
		result = append(result, &cp)
	}

	// newest first, same as the database queue
	slices.SortFunc(result, func(a, b *Task) int { return b.CreatedAt.Compare(a.CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				t := task.ScheduledAt
				stats.OldestPending = &t
			}
			stats.ByType[task.Type]++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		if task.Status == StatusCompleted && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			count++
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
