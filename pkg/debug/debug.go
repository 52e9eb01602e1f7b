// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves metrics, pprof and readiness on the debug port and
// keeps the dependency health checks shared with the public health route.
package debug

import (
	"context"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readyStateNotReady = 0
	readyStateReady    = 1

	defaultCheckTimeout = 3 * time.Second
)

// CheckFunc probes one dependency and returns nil when it is reachable.
type CheckFunc func(ctx context.Context) error

var (
	readyState atomic.Int64

	checksMu sync.RWMutex
	checks   = make(map[string]CheckFunc)

	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	readyState.Store(readyStateReady)
}

func SetNotReady() {
	readyState.Store(readyStateNotReady)
}

// RegisterCheck adds a named dependency probe. Registering the same name
// again replaces the previous probe.
func RegisterCheck(name string, check CheckFunc) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

// RunChecks runs every registered probe concurrently and returns the
// failures keyed by name. An empty map means everything is healthy.
func RunChecks(ctx context.Context) map[string]error {
	checksMu.RLock()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]CheckFunc, len(names))
	for i, name := range names {
		fns[i] = checks[name]
	}
	checksMu.RUnlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCheckTimeout)
		defer cancel()
	}

	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(ctx)
		}()
	}
	wg.Wait()

	failed := make(map[string]error)
	for i, err := range errs {
		if err != nil {
			failed[names[i]] = err
			HealthCheckFailures.WithLabelValues(names[i]).Inc()
		}
	}
	return failed
}

func IsReady(ctx context.Context) bool {
	if readyState.Load() != readyStateReady {
		return false
	}
	return len(RunChecks(ctx)) == 0
}

// Registry returns the Prometheus registry for registering custom metrics.
func Registry() prometheus.Registerer {
	return globalRegistry
}

var HealthCheckFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zapupload",
	Subsystem: "debug",
	Name:      "health_check_failures_total",
	Help:      "Dependency health check failures by dependency",
}, []string{"dependency"})

func init() {
	globalRegistry.MustRegister(HealthCheckFailures)
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.Handle("/debug/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handle("/debug/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/trace", http.HandlerFunc(pprof.Trace))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady(r.Context()) {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	return mux
}
