// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scanner

import (
	"context"
	"fmt"
	"time"
)

// StaticScanner serves a fixed candidate set for demos and local development
// where no metrics provider is reachable.
type StaticScanner struct {
	now func() time.Time
}

var _ Scanner = (*StaticScanner)(nil)

func NewStaticScanner() *StaticScanner {
	return &StaticScanner{now: time.Now}
}

// Scan returns the built-in fixture. Thresholds are still honored so a demo
// with a zero CPU threshold returns nothing, same as the real scanner would.
func (s *StaticScanner) Scan(_ context.Context, thresholds Thresholds) ([]Candidate, error) {
	scannedAt := s.now().UTC()
	fixtures := []Candidate{
		{
			ResourceID:      "i-0a1b2c3d4e5f67890",
			Name:            "prod-api-server-03",
			Service:         "EC2",
			Region:          "us-east-1",
			CurrentSpec:     "m5.4xlarge",
			RecommendedSpec: "m5.xlarge",
			CPUAvgPct:       3.2,
			CPUP95Pct:       8.1,
			MemoryAvgPct:    14.7,
		},
		{
			ResourceID:      "i-029da6afe1826bbba",
			Name:            "wastehunter-rec-engine",
			Service:         "EC2",
			Region:          "us-west-2",
			CurrentSpec:     "t3.large",
			RecommendedSpec: "t3.medium",
			CPUAvgPct:       4.8,
			CPUP95Pct:       9.6,
			MemoryAvgPct:    22.4,
		},
		{
			ResourceID:      "i-03e3a5ce0a14eaa82",
			Name:            "wastehunter-batch-worker",
			Service:         "EC2",
			Region:          "us-west-2",
			CurrentSpec:     "c5.2xlarge",
			RecommendedSpec: "c5.xlarge",
			CPUAvgPct:       6.1,
			CPUP95Pct:       11.9,
			MemoryAvgPct:    31.0,
		},
	}

	out := make([]Candidate, 0, len(fixtures))
	for _, c := range fixtures {
		if c.CPUAvgPct >= thresholds.CPUPct {
			continue
		}
		c.ScannedAt = scannedAt
		costMath(&c)
		c.Evidence = []string{
			fmt.Sprintf("CPU avg %.1f%% over last %s (threshold: <%.1f%%)",
				c.CPUAvgPct, thresholds.Lookback, thresholds.CPUPct),
			fmt.Sprintf("CPU p95 %.1f%%", c.CPUP95Pct),
			fmt.Sprintf("Memory avg %.1f%% utilized", c.MemoryAvgPct),
		}
		out = append(out, c)
	}
	scansTotal.WithLabelValues("static").Inc()
	return out, nil
}
