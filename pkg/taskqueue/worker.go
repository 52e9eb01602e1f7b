// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
)

// Worker polls the queue and executes tasks.
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	concurrency       int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WorkerConfig configures the task worker.
type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int
	// HeartbeatInterval is how often a running task's claim is renewed.
	// Keep it well below the queue's visibility timeout.
	HeartbeatInterval time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultVisibilityTimeout / 5
	}

	return &Worker{
		id:                cfg.ID,
		queue:             cfg.Queue,
		handlers:          make(map[TaskType]Handler),
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		concurrency:       cfg.Concurrency,
		stopCh:            make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a task type. Call before Start.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().
		Str("type", string(h.Type())).
		Msg("taskqueue: registered handler")
}

// Start launches the polling goroutines.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Msg("taskqueue: worker started with no handlers")
		return
	}

	logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.concurrency).
		Int("handlers", len(types)).
		Msg("taskqueue: worker starting")

	for range w.concurrency {
		w.wg.Add(1)
		go w.work(ctx, types)
	}
}

// Stop waits for in-flight tasks and shuts the worker down.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
}

func (w *Worker) work(ctx context.Context, types []TaskType) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// drain the queue before waiting for the next tick
			for w.processOne(ctx, types) {
				select {
				case <-w.stopCh:
					return
				default:
				}
			}
		}
	}
}

// processOne runs at most one task and reports whether one was found.
func (w *Worker) processOne(ctx context.Context, types []TaskType) bool {
	task, err := w.queue.Dequeue(ctx, w.id, types...)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			DequeueErrors.Inc()
			logger.Error().Err(err).Msg("taskqueue: dequeue failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	log := logger.Ctx(ctx).With().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Str("key", task.Key).
		Int("attempt", task.Attempts).
		Logger()

	handler, ok := w.handlers[task.Type]
	if !ok {
		log.Error().Msg("taskqueue: no handler for task type")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "no_handler").Inc()
		w.queue.Fail(ctx, task.ID, fmt.Errorf("%w: no handler registered", ErrPermanent))
		return true
	}

	log.Debug().Msg("taskqueue: processing task")

	WorkerActive.Inc()
	start := time.Now()
	err = w.runWithHeartbeat(logger.WithLogger(ctx, &log), handler, task)
	TaskProcessingDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())
	WorkerActive.Dec()

	if err != nil {
		log.Warn().Err(err).Msg("taskqueue: task failed")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		if ferr := w.queue.Fail(ctx, task.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("taskqueue: record failure")
		}
		return true
	}

	log.Debug().Msg("taskqueue: task completed")
	TasksProcessedTotal.WithLabelValues(string(task.Type), "completed").Inc()
	if cerr := w.queue.Complete(ctx, task.ID); cerr != nil {
		log.Error().Err(cerr).Msg("taskqueue: record completion")
	}
	return true
}

// runWithHeartbeat renews the task claim until the handler returns.
func (w *Worker) runWithHeartbeat(ctx context.Context, h Handler, task *Task) error {
	done := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Heartbeat(ctx, task.ID, w.id); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("taskqueue: heartbeat failed")
				}
			}
		}
	}()

	err := h.Handle(ctx, task)
	close(done)
	hb.Wait()
	return err
}

// RefreshStats publishes queue depth gauges from Stats.
func (w *Worker) RefreshStats(ctx context.Context) error {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		return err
	}
	QueueDepth.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	QueueDepth.WithLabelValues(string(StatusRunning)).Set(float64(stats.Running))
	QueueDepth.WithLabelValues(string(StatusDeadLetter)).Set(float64(stats.DeadLetter))
	return nil
}

func (w *Worker) Queue() Queue {
	return w.queue
}

// HandlerTypes returns the task types this worker handles.
func (w *Worker) HandlerTypes() []TaskType {
	types := make([]TaskType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}
