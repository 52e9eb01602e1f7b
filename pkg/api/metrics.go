// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/LeeDigitalWorks/zapupload/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by route",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route"})

	panicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "api",
		Name:      "panics_total",
		Help:      "Handler panics recovered",
	})
)

func init() {
	debug.Registry().MustRegister(requestsTotal, requestDuration, panicsTotal, filterDuration, filterErrors)
}
