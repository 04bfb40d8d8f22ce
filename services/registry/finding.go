// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry is the single source of truth for findings and pipeline
// progress. All lifecycle transitions for a resource are serialized behind a
// per-resource lock; the API layer and the pipeline both go through it.
package registry

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/scm"
)

var (
	// ErrNotFound marks an unknown resource id.
	ErrNotFound = errors.New("finding not found")

	// ErrInvalidTransition marks a lifecycle operation on a finding in the
	// wrong state. Caller error, not retryable.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Status is a finding's position in the lifecycle state machine.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusAnalyzing Status = "analyzing"
	StatusPRReady   Status = "pr_ready"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the status ends this finding instance. A
// re-scanned resource gets a fresh finding instead of reopening this one.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// validTransitions is the total transition function for the lifecycle. A
// self-loop on analyzing lets a failed pipeline run be retried without a
// state change.
var validTransitions = map[Status][]Status{
	StatusDetected:  {StatusAnalyzing},
	StatusAnalyzing: {StatusAnalyzing, StatusPRReady},
	StatusPRReady:   {StatusApproved, StatusRejected},
}

func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Metrics is the utilization evidence attached to a finding.
type Metrics struct {
	CPUAvgPct    float64 `json:"cpu_avg_pct"`
	CPUP95Pct    float64 `json:"cpu_p95_pct"`
	MemoryAvgPct float64 `json:"memory_avg_pct"`
}

// Finding is one proposed downsize for a resource. At most one finding is
// active per resource id; a terminal finding is overwritten by the next scan.
type Finding struct {
	ResourceID      string `json:"resource_id"`
	Name            string `json:"name"`
	Service         string `json:"service"`
	Region          string `json:"region"`
	CurrentSpec     string `json:"current_spec"`
	RecommendedSpec string `json:"recommended_spec"`

	Metrics           Metrics         `json:"metrics"`
	MonthlySavingsUSD decimal.Decimal `json:"monthly_savings_usd"`
	AnnualSavingsUSD  decimal.Decimal `json:"annual_savings_usd"`
	Evidence          []string        `json:"evidence"`

	BlastRisk    blast.Risk `json:"blast_risk"`
	BlastReasons []string   `json:"blast_reasons"`

	Status        Status             `json:"status"`
	ChangeRequest *scm.ChangeRequest `json:"change_request,omitempty"`

	ScannedAt time.Time `json:"scanned_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action names the proposed change the way decision memory records it.
func (f *Finding) Action() string {
	return "downsize-" + f.CurrentSpec + "->" + f.RecommendedSpec
}

func cloneFinding(f *Finding) Finding {
	c := *f
	c.Evidence = append([]string(nil), f.Evidence...)
	c.BlastReasons = append([]string(nil), f.BlastReasons...)
	if f.ChangeRequest != nil {
		cr := *f.ChangeRequest
		c.ChangeRequest = &cr
	}
	return c
}
