// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Response interface {
	IsEnd() bool
}

type Next struct{}

func (n Next) IsEnd() bool {
	return false
}

type End struct{}

func (e End) IsEnd() bool {
	return true
}

// Filter runs before the handler. Returning an error ends the request with
// that error's API form.
type Filter interface {
	Run(d *Data) (Response, error)
	Type() string
}

type Chain struct {
	filters []Filter
}

func NewChain() *Chain {
	return &Chain{}
}

func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}

// Run passes d through every filter in order. It returns the type of the
// filter that stopped the chain, if any.
func (c *Chain) Run(d *Data) (string, error) {
	for _, filter := range c.filters {
		t := time.Now()
		resp, err := filter.Run(d)
		filterDuration.WithLabelValues(filter.Type()).Observe(time.Since(t).Seconds())

		if d.Ctx.Err() != nil {
			return filter.Type(), d.Ctx.Err()
		}
		if err != nil {
			filterErrors.WithLabelValues(filter.Type()).Inc()
			return filter.Type(), err
		}
		if resp.IsEnd() {
			return filter.Type(), nil
		}
	}
	return "", nil
}

var (
	filterDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zapupload",
		Subsystem: "api",
		Name:      "filter_duration_seconds",
		Help:      "Duration of filter runs in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"filter"})

	filterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zapupload",
		Subsystem: "api",
		Name:      "filter_errors_total",
		Help:      "Requests rejected by a filter",
	}, []string{"filter"})
)
