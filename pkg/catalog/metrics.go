// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "catalog",
		Name:      "requests_total",
		Help:      "Requests sent to the metadata and project services",
	}, []string{"op", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "catalog",
		Name:      "request_duration_seconds",
		Help:      "Latency of metadata and project service requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	projectCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "catalog",
		Name:      "project_cache_hits_total",
		Help:      "Project lookups served from cache",
	})

	projectCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "catalog",
		Name:      "project_cache_misses_total",
		Help:      "Project lookups sent to the project service",
	})
)

func init() {
	debug.Registry().MustRegister(requestsTotal, requestDuration, projectCacheHits, projectCacheMisses)
}
