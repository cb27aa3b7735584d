// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug exposes the operational HTTP surface: prometheus metrics,
// pprof profiles, and health/readiness probes.
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	// Global registry for custom metrics.
	globalRegistry = prometheus.NewRegistry()
)

// SetReady marks the process as ready to serve traffic.
func SetReady() {
	ready.Store(true)
}

// SetNotReady marks the process as draining or not yet initialized.
func SetNotReady() {
	ready.Store(false)
}

// IsReady reports whether SetReady has been called.
func IsReady() bool {
	return ready.Load()
}

// Registry returns the prometheus registry for custom metrics.
// Metrics registered here are exported on /metrics alongside defaults.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Mux builds the debug HTTP mux.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return mux
}
