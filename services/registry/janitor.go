// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JanitorConfig controls the background progress collector.
//
// Progress entries are ephemeral: once a run is done and a poller has seen
// the final state, the entry only wastes memory. The janitor sweeps those on
// an interval.
type JanitorConfig struct {
	// Interval is how often to sweep. Default: 5 minutes.
	Interval time.Duration

	// MaxAge is how long a completed, observed entry survives before
	// collection. Default: 15 minutes.
	MaxAge time.Duration
}

// DefaultJanitorConfig returns the production defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval: 5 * time.Minute,
		MaxAge:   15 * time.Minute,
	}
}

// Janitor periodically collects completed pipeline-progress entries. It uses
// the ticker + done channel pattern so Stop waits for the current sweep.
type Janitor struct {
	registry *Registry
	config   JanitorConfig

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewJanitor creates a janitor over the registry. Zero config fields fall
// back to DefaultJanitorConfig values.
func NewJanitor(registry *Registry, config JanitorConfig) *Janitor {
	defaults := DefaultJanitorConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	return &Janitor{registry: registry, config: config}
}

// Start launches the background sweep loop. Returns an error if the janitor
// is already running.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("progress janitor is already running")
	}
	j.running = true
	j.done = make(chan struct{})
	j.stopped = make(chan struct{})
	j.mu.Unlock()

	slog.Info("progress janitor starting",
		"interval", j.config.Interval.String(),
		"max_age", j.config.MaxAge.String(),
	)
	go j.runLoop(ctx)
	return nil
}

// Stop signals shutdown and waits for the loop to exit. Safe to call more
// than once.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.done)
	stopped := j.stopped
	j.mu.Unlock()

	<-stopped
	slog.Info("progress janitor stopped")
}

func (j *Janitor) runLoop(ctx context.Context) {
	defer close(j.stopped)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.done:
			return
		case <-ticker.C:
			if n := j.registry.SweepRuns(j.config.MaxAge); n > 0 {
				slog.Debug("collected pipeline progress entries", "count", n)
			}
		}
	}
}
