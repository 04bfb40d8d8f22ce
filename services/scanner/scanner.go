// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scanner discovers idle compute resources and turns them into
// downsize candidates. A candidate carries the utilization evidence and the
// cost math; the finding registry owns everything that happens after that.
package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrScanFailed marks upstream metric-provider failures.
var ErrScanFailed = errors.New("scan failed")

// Thresholds controls what counts as idle.
type Thresholds struct {
	// CPUPct flags instances whose average CPU sits below this percentage.
	CPUPct float64

	// Lookback is the metric window to average over.
	Lookback time.Duration
}

// DefaultThresholds matches the operational defaults: under 10% average CPU
// over the last hour.
func DefaultThresholds() Thresholds {
	return Thresholds{CPUPct: 10.0, Lookback: time.Hour}
}

// Candidate is one idle resource with a concrete downsize recommendation.
type Candidate struct {
	ResourceID      string `json:"resource_id"`
	Name            string `json:"name"`
	Service         string `json:"service"`
	Region          string `json:"region"`
	CurrentSpec     string `json:"current_type"`
	RecommendedSpec string `json:"recommended_type"`

	CPUAvgPct    float64 `json:"cpu_avg_pct"`
	CPUP95Pct    float64 `json:"cpu_p95_pct"`
	MemoryAvgPct float64 `json:"memory_avg_pct"`

	CurrentCostUSD    decimal.Decimal `json:"current_cost_usd"`
	ProjectedCostUSD  decimal.Decimal `json:"projected_cost_usd"`
	MonthlySavingsUSD decimal.Decimal `json:"monthly_savings_usd"`
	AnnualSavingsUSD  decimal.Decimal `json:"annual_savings_usd"`
	SavingsPct        float64         `json:"savings_pct"`

	Evidence  []string  `json:"evidence"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Scanner produces downsize candidates from some utilization source.
type Scanner interface {
	Scan(ctx context.Context, thresholds Thresholds) ([]Candidate, error)
}
