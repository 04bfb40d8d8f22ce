// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "wastehunter"
	metricsSubsystem = "pipeline"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "runs_started_total",
		Help:      "Pipeline runs launched.",
	})

	runsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "runs_succeeded_total",
		Help:      "Pipeline runs that opened a change request.",
	})

	runsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "runs_failed_total",
		Help:      "Pipeline runs that ended in the error step.",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of successful pipeline runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
