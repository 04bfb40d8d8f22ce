// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blast assesses the blast radius of a proposed downsize: the set
// of dependent systems that could be affected, and the aggregate risk they
// imply. The assessment combines a bounded graph traversal with the
// decision memory of prior human rejections.
package blast

import (
	"context"
	"fmt"

	"github.com/AleutianAI/wastehunter/services/graph"
)

// ErrDependencyUnavailable is returned when the graph store cannot be
// reached. Assessment fails closed: the caller must not proceed, and must
// never fall back to a default risk.
var ErrDependencyUnavailable = graph.ErrUnavailable

// Risk is the aggregate blast-radius classification.
type Risk string

const (
	RiskSafe     Risk = "SAFE"
	RiskLow      Risk = "LOW"
	RiskMedium   Risk = "MEDIUM"
	RiskCritical Risk = "CRITICAL"
)

// SafeToProceed reports whether a change request can be opened normally.
// CRITICAL findings still get a change request, but as a draft.
func (r Risk) SafeToProceed() bool {
	return r == RiskSafe || r == RiskLow
}

// Assessment is the result of a blast-radius check.
//
// Reasons is an ordered, testable contract: one entry per HIGH/MEDIUM
// dependency (HIGH before MEDIUM, nearer hops first), followed by one entry
// per active rejection. Dependency-derived entries always precede
// memory-derived entries.
type Assessment struct {
	ResourceID     string                `json:"resource_id"`
	Risk           Risk                  `json:"risk"`
	Reasons        []string              `json:"reasons"`
	Dependencies   []graph.Dependency    `json:"dependencies"`
	Rejections     []graph.DecisionMemory `json:"rejections"`
	Recommendation string                `json:"recommendation"`
}

// DefaultMaxHops is the traversal depth used for assessments.
const DefaultMaxHops = 2

// Assessor classifies blast radius by querying the dependency graph.
type Assessor struct {
	store   graph.Store
	maxHops int
}

// NewAssessor creates an assessor over the given store using DefaultMaxHops.
func NewAssessor(store graph.Store) *Assessor {
	return &Assessor{store: store, maxHops: DefaultMaxHops}
}

// Assess runs a full blast-radius check for resourceID.
//
// Classification:
//   - no dependencies and no active rejections -> SAFE
//   - all dependent nodes LOW                  -> LOW
//   - at least one MEDIUM, none HIGH           -> MEDIUM
//   - any HIGH dependency, or any active (unsuperseded) REJECTED decision
//     memory                                   -> CRITICAL
//
// A store failure returns ErrDependencyUnavailable; there is no risk
// defaulting on error.
func (a *Assessor) Assess(ctx context.Context, resourceID string) (*Assessment, error) {
	nb, err := a.store.GetNeighborhood(ctx, resourceID, a.maxHops)
	if err != nil {
		return nil, fmt.Errorf("assessing %s: %w", resourceID, err)
	}
	memory, err := a.store.GetDecisionMemory(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("assessing %s: %w", resourceID, err)
	}

	var active []graph.DecisionMemory
	for _, rec := range memory {
		if rec.Active() {
			active = append(active, rec)
		}
	}

	risk := classify(nb.Dependencies, active)
	reasons := buildReasons(nb.Dependencies, active)
	assessmentsByRisk.WithLabelValues(string(risk)).Inc()

	return &Assessment{
		ResourceID:     resourceID,
		Risk:           risk,
		Reasons:        reasons,
		Dependencies:   nb.Dependencies,
		Rejections:     active,
		Recommendation: recommendation(risk, active),
	}, nil
}

func classify(deps []graph.Dependency, active []graph.DecisionMemory) Risk {
	var high, medium bool
	for _, d := range deps {
		switch d.Node.Criticality {
		case graph.CriticalityHigh:
			high = true
		case graph.CriticalityMedium:
			medium = true
		}
	}
	switch {
	case high || len(active) > 0:
		return RiskCritical
	case len(deps) == 0:
		return RiskSafe
	case medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// buildReasons emits dependency entries before memory entries. The store
// returns dependencies sorted by criticality then hop distance, so HIGH
// entries naturally come first.
func buildReasons(deps []graph.Dependency, active []graph.DecisionMemory) []string {
	var reasons []string
	for _, d := range deps {
		if d.Node.Criticality != graph.CriticalityHigh && d.Node.Criticality != graph.CriticalityMedium {
			continue
		}
		reasons = append(reasons, dependencyReason(d))
	}
	for _, rec := range active {
		reasons = append(reasons, rejectionReason(rec))
	}
	return reasons
}

func dependencyReason(d graph.Dependency) string {
	hopWord := "hops"
	if d.Hops == 1 {
		hopWord = "hop"
	}
	return fmt.Sprintf("%s (%s, %d %s, %s)",
		d.Node.DisplayName(), d.Relationship, d.Hops, hopWord, d.Node.Criticality)
}

func rejectionReason(rec graph.DecisionMemory) string {
	return fmt.Sprintf("downsize rejected by %s on %s: %q",
		rec.RejectedBy, rec.RejectedAt.UTC().Format("2006-01-02"), rec.Reason)
}

func recommendation(risk Risk, active []graph.DecisionMemory) string {
	switch risk {
	case RiskSafe:
		return "No dependencies detected. Proceed with the change request."
	case RiskLow:
		return "Only low-criticality dependencies found. Proceed; human approval required before merge."
	case RiskMedium:
		return "Medium-risk dependencies present. Open the change request and tag the owner for mandatory review."
	default:
		if len(active) > 0 {
			return "A previous downsize was rejected for this resource. Open as draft and escalate to the owner."
		}
		return "Critical dependencies detected. Open as draft; do not merge without owner review."
	}
}
