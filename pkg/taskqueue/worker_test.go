// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler implements Handler for tests.
type testHandler struct {
	taskType TaskType
	handleFn func(ctx context.Context, task *Task) error
}

func (h *testHandler) Type() TaskType {
	return h.taskType
}

func (h *testHandler) Handle(ctx context.Context, task *Task) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, task)
	}
	return nil
}

func TestWorker_RegisterHandler(t *testing.T) {
	t.Parallel()

	w := NewWorker(WorkerConfig{ID: "w1", Queue: NewMemoryQueue()})
	w.RegisterHandler(nil)
	assert.Empty(t, w.HandlerTypes())

	w.RegisterHandler(&testHandler{taskType: TaskTypeFinalize})
	assert.Equal(t, []TaskType{TaskTypeFinalize}, w.HandlerTypes())
}

func TestWorker_StartWithoutHandlers(t *testing.T) {
	t.Parallel()

	w := NewWorker(WorkerConfig{ID: "w1", Queue: NewMemoryQueue()})
	w.Start(context.Background())
	w.Stop()
}

func TestWorker_ProcessesTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	var handled atomic.Int32
	w := NewWorker(WorkerConfig{ID: "w1", Queue: q, PollInterval: 5 * time.Millisecond, Concurrency: 2})
	w.RegisterHandler(&testHandler{
		taskType: TaskTypeFinalize,
		handleFn: func(ctx context.Context, task *Task) error {
			handled.Add(1)
			return nil
		},
	})

	ids := make([]string, 3)
	for i := range ids {
		task := finalizeTask("job")
		require.NoError(t, q.Enqueue(ctx, task))
		ids[i] = task.ID
	}

	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, id := range ids {
			task, err := q.Get(ctx, id)
			if err != nil || task.Status != StatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_FailedTaskIsRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueueWithConfig(MemoryQueueConfig{RetryBackoff: time.Hour})
	defer q.Close()

	w := NewWorker(WorkerConfig{ID: "w1", Queue: q, PollInterval: 5 * time.Millisecond, Concurrency: 1})
	w.RegisterHandler(&testHandler{
		taskType: TaskTypeFinalize,
		handleFn: func(ctx context.Context, task *Task) error {
			return errors.New("object store unavailable")
		},
	})

	task := finalizeTask("job-1")
	require.NoError(t, q.Enqueue(ctx, task))

	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, task.ID)
		return err == nil && got.Attempts == 1 && got.Status == StatusPending
	}, 2*time.Second, 5*time.Millisecond)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "object store unavailable", got.LastError)
}

func TestWorker_UnknownTypeIsDeadLettered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	w := NewWorker(WorkerConfig{ID: "w1", Queue: q})
	w.RegisterHandler(&testHandler{taskType: TaskTypeFinalize})

	task := &Task{Type: "unknown", Payload: []byte(`{}`)}
	require.NoError(t, q.Enqueue(ctx, task))

	// Dequeue without a type filter to hand the worker a task it cannot run.
	assert.True(t, w.processOne(ctx, nil))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, got.Status)
}

func TestWorker_RefreshStats(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer q.Close()
	require.NoError(t, q.Enqueue(context.Background(), finalizeTask("job-1")))

	w := NewWorker(WorkerConfig{ID: "w1", Queue: q})
	require.NoError(t, w.RefreshStats(context.Background()))
}
