// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the API layer.
//
// Metrics are exposed on /metrics and are intended for a Prometheus +
// Grafana stack. All operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "wastehunter"
	apiSubsystem     = "api"
)

// APIMetrics holds the HTTP-layer Prometheus metrics.
type APIMetrics struct {
	// RequestsTotal counts requests by route, method and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency by route.
	RequestDurationSeconds *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	apiMetrics  *APIMetrics
)

// InitMetrics registers the API metrics once and returns them. Subsequent
// calls return the same set.
func InitMetrics() *APIMetrics {
	metricsOnce.Do(func() {
		apiMetrics = &APIMetrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status.",
			}, []string{"route", "method", "status"}),
			RequestDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP handler latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
	})
	return apiMetrics
}

// Middleware records request counts and latency per route. It keys on the
// route template, not the raw path, to keep label cardinality bounded.
func Middleware(m *APIMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(
			route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
