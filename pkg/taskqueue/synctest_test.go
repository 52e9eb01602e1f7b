// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_ScheduledTask_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue()
		ctx := context.Background()

		task := finalizeTask("job-1")
		task.ScheduledAt = time.Now().Add(time.Hour)
		require.NoError(t, q.Enqueue(ctx, task))

		got, _ := q.Dequeue(ctx, "w1")
		assert.Nil(t, got, "task should not run before its scheduled time")

		time.Sleep(61 * time.Minute)
		got, _ = q.Dequeue(ctx, "w1")
		assert.NotNil(t, got)
	})
}

// Failed attempts back off base, 2*base, 4*base...
func TestMemoryQueue_RetryBackoff_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue()
		ctx := context.Background()

		task := finalizeTask("job-1")
		require.NoError(t, q.Enqueue(ctx, task))

		got, _ := q.Dequeue(ctx, "w1")
		require.NotNil(t, got)
		require.NoError(t, q.Fail(ctx, got.ID, assert.AnError))

		got, _ = q.Dequeue(ctx, "w1")
		assert.Nil(t, got, "task should be in backoff")

		time.Sleep(DefaultRetryBackoff + time.Millisecond)
		got, _ = q.Dequeue(ctx, "w1")
		require.NotNil(t, got, "task should be available after the first backoff")
		require.NoError(t, q.Fail(ctx, got.ID, assert.AnError))

		time.Sleep(DefaultRetryBackoff + time.Millisecond)
		got, _ = q.Dequeue(ctx, "w1")
		assert.Nil(t, got, "second backoff is twice as long")

		time.Sleep(DefaultRetryBackoff)
		got, _ = q.Dequeue(ctx, "w1")
		assert.NotNil(t, got)
	})
}

func TestMemoryQueue_ReclaimsAbandonedTask_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueueWithConfig(MemoryQueueConfig{VisibilityTimeout: time.Minute})
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
		first, _ := q.Dequeue(ctx, "w1")
		require.NotNil(t, first)

		time.Sleep(30 * time.Second)
		require.NoError(t, q.Heartbeat(ctx, first.ID, "w1"))

		time.Sleep(45 * time.Second)
		got, _ := q.Dequeue(ctx, "w2")
		assert.Nil(t, got, "heartbeat keeps the claim alive")

		time.Sleep(30 * time.Second)
		got, _ = q.Dequeue(ctx, "w2")
		require.NotNil(t, got)
		assert.Equal(t, "w2", got.WorkerID)
		assert.Equal(t, 1, got.Attempts)
	})
}

func TestMemoryQueue_Cleanup_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue()
		ctx := context.Background()

		require.NoError(t, q.Enqueue(ctx, finalizeTask("job-1")))
		got, _ := q.Dequeue(ctx, "w1")
		require.NoError(t, q.Complete(ctx, got.ID))

		count, _ := q.Cleanup(ctx, time.Hour)
		assert.Equal(t, 0, count)

		time.Sleep(2 * time.Hour)
		count, _ = q.Cleanup(ctx, time.Hour)
		assert.Equal(t, 1, count)
	})
}

// A handler that outlives the visibility timeout must not be handed to a
// second worker while the first is still heartbeating.
func TestWorker_HeartbeatDuringLongTask_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueueWithConfig(MemoryQueueConfig{VisibilityTimeout: time.Minute})
		var runs atomic.Int32

		w := NewWorker(WorkerConfig{
			ID:                "w1",
			Queue:             q,
			Concurrency:       2,
			PollInterval:      time.Second,
			HeartbeatInterval: 10 * time.Second,
		})
		w.RegisterHandler(&testHandler{
			taskType: TaskTypeFinalize,
			handleFn: func(ctx context.Context, task *Task) error {
				runs.Add(1)
				time.Sleep(5 * time.Minute)
				return nil
			},
		})

		task := finalizeTask("job-1")
		require.NoError(t, q.Enqueue(context.Background(), task))

		ctx, cancel := context.WithCancel(context.Background())
		w.Start(ctx)

		time.Sleep(6 * time.Minute)
		synctest.Wait()

		assert.Equal(t, int32(1), runs.Load())
		got, err := q.Get(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)

		cancel()
		w.Stop()
	})
}

func TestWorker_DrainsQueue_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue()
		var count atomic.Int32

		w := NewWorker(WorkerConfig{ID: "w1", Queue: q, Concurrency: 1, PollInterval: 50 * time.Millisecond})
		w.RegisterHandler(&testHandler{
			taskType: TaskTypeFinalize,
			handleFn: func(ctx context.Context, task *Task) error {
				count.Add(1)
				return nil
			},
		})

		for range 3 {
			require.NoError(t, q.Enqueue(context.Background(), finalizeTask("job")))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		w.Start(ctx)

		// one tick drains everything that is ready
		time.Sleep(60 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, int32(3), count.Load())

		w.Stop()
	})
}
