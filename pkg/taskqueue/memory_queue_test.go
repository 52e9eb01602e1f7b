// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finalizeTask(jobID string) *Task {
	payload, _ := MarshalPayload(map[string]string{"job_id": jobID})
	return &Task{Type: TaskTypeFinalize, Key: jobID, Payload: payload}
}

func TestMemoryQueue_EnqueueDefaults(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	defer q.Close()

	task := finalizeTask("job-1")
	require.NoError(t, q.Enqueue(context.Background(), task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, PriorityNormal, task.Priority)
	assert.Equal(t, DefaultMaxRetries, task.MaxRetries)
	assert.False(t, task.ScheduledAt.IsZero())
}

func TestMemoryQueue_EnqueueClosed(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue()
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(context.Background(), finalizeTask("job-1")), ErrQueueClosed)

	_, err := q.Dequeue(context.Background(), "w1")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_DequeuePriorityAndType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	low := finalizeTask("job-low")
	high := finalizeTask("job-high")
	high.Priority = PriorityHigh
	other := &Task{Type: "other", Payload: []byte(`{}`), Priority: 100}

	require.NoError(t, q.Enqueue(ctx, low))
	require.NoError(t, q.Enqueue(ctx, high))
	require.NoError(t, q.Enqueue(ctx, other))

	got, err := q.Dequeue(ctx, "w1", TaskTypeFinalize)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-high", got.Key)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "w1", got.WorkerID)

	got, err = q.Dequeue(ctx, "w1", TaskTypeFinalize)
	require.NoError(t, err)
	assert.Equal(t, "job-low", got.Key)

	got, err = q.Dequeue(ctx, "w1", TaskTypeFinalize)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_DequeueSkipsFutureTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	task := finalizeTask("job-1")
	task.ScheduledAt = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_Complete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, got.ID))
	done, err := q.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	assert.ErrorIs(t, q.Complete(ctx, "missing"), ErrTaskNotFound)
}

func TestMemoryQueue_FailRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueueWithConfig(MemoryQueueConfig{RetryBackoff: time.Nanosecond})
	defer q.Close()

	task := finalizeTask("job-1")
	task.MaxRetries = 2
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, got.ID, errors.New("combine failed")))

	after, err := q.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)
	assert.Equal(t, 1, after.Attempts)
	assert.Equal(t, "combine failed", after.LastError)
	assert.Empty(t, after.WorkerID)

	time.Sleep(time.Millisecond)
	got, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Fail(ctx, got.ID, errors.New("combine failed again")))

	after, err = q.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, after.Status)
	assert.Equal(t, 2, after.Attempts)
}

func TestMemoryQueue_FailPermanent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, got.ID, fmt.Errorf("%w: bad payload", ErrPermanent)))
	after, err := q.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, after.Status)
}

func TestMemoryQueue_Heartbeat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Heartbeat(ctx, got.ID, "w1"))
	assert.ErrorIs(t, q.Heartbeat(ctx, got.ID, "w2"), ErrTaskNotFound)
	assert.ErrorIs(t, q.Heartbeat(ctx, "missing", "w1"), ErrTaskNotFound)
}

func TestMemoryQueue_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	task := finalizeTask("job-1")
	require.NoError(t, q.Enqueue(ctx, task))
	task.Key = "mutated"

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.Key)
}

func TestMemoryQueue_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	for i := range 5 {
		task := finalizeTask(fmt.Sprintf("job-%d", i))
		task.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, q.Enqueue(ctx, task))
	}

	all, err := q.List(ctx, TaskFilter{Type: TaskTypeFinalize})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "job-4", all[0].Key)

	byKey, err := q.List(ctx, TaskFilter{Key: "job-2"})
	require.NoError(t, err)
	require.Len(t, byKey, 1)

	page, err := q.List(ctx, TaskFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-3", page[0].Key)

	empty, err := q.List(ctx, TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryQueue_StatsAndCleanup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
	require.NoError(t, q.Enqueue(ctx, finalizeTask("job-2")))
	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, got.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Completed)
	assert.EqualValues(t, 1, stats.ByType[TaskTypeFinalize])
	assert.NotNil(t, stats.OldestPending)

	n, err := q.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnmarshalPayload(t *testing.T) {
	t.Parallel()

	type payload struct {
		JobID string `json:"job_id"`
	}
	got, err := UnmarshalPayload[payload](finalizeTask("job-9").Payload)
	require.NoError(t, err)
	assert.Equal(t, "job-9", got.JobID)

	_, err = UnmarshalPayload[payload]([]byte(`{`))
	assert.Error(t, err)
}
