// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsPublishedTotal tracks events delivered by activity type
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of activity events published",
	}, []string{"activity_type"})

	// EventsDroppedTotal tracks events dropped because publishing is disabled
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of activity events dropped (publisher disabled)",
	})

	// EventsErrorsTotal tracks publish errors
	EventsErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "events",
		Name:      "errors_total",
		Help:      "Total number of activity event publish errors",
	}, []string{"error_type"}) // error_type: "marshal", "send"

	EventsDeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering activity events to Kafka",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
)

func init() {
	debug.Registry().MustRegister(
		EventsPublishedTotal,
		EventsDroppedTotal,
		EventsErrorsTotal,
		EventsDeliveryDuration,
	)
}
