// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksProcessedTotal tracks total tasks processed by type and status
	TasksProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "tasks_processed_total",
		Help:      "Total number of tasks processed",
	}, []string{"type", "status"}) // status: "completed", "failed", "no_handler"

	TaskProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "task_processing_duration_seconds",
		Help:      "Time spent processing tasks",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600},
	}, []string{"type"})

	TasksEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "tasks_enqueued_total",
		Help:      "Total number of tasks enqueued",
	}, []string{"type"})

	// QueueDepth is refreshed from Stats by the worker's stats loop
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "queue_depth",
		Help:      "Current number of tasks in queue by status",
	}, []string{"status"})

	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "workers_active",
		Help:      "Number of worker goroutines currently running a task",
	})

	DequeueErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "dequeue_errors_total",
		Help:      "Total number of dequeue errors",
	})

	DeadlockRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "taskqueue",
		Name:      "deadlock_retries_total",
		Help:      "Total number of database deadlock retries",
	})
)

func init() {
	debug.Registry().MustRegister(
		TasksProcessedTotal,
		TaskProcessingDuration,
		TasksEnqueuedTotal,
		QueueDepth,
		WorkerActive,
		DequeueErrors,
		DeadlockRetries,
	)
}
