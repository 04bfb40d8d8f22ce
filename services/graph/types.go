// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph owns the dependency graph: resource nodes, the relationships
// between them, and the decision memory written back by human rejections.
//
// Two Store implementations exist. The Neo4j store targets a server
// deployment and mirrors the production Cypher queries; the Badger store is
// embedded and keeps the same contract for single-binary installs and tests.
package graph

import (
	"fmt"
	"time"
)

// =============================================================================
// Nodes and Edges
// =============================================================================

// Criticality ranks how much damage losing a node would cause.
type Criticality string

const (
	CriticalityLow    Criticality = "LOW"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityHigh   Criticality = "HIGH"
)

// rank orders criticalities for sorting; unknown values sort lowest.
func (c Criticality) rank() int {
	switch c {
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	default:
		return 0
	}
}

// ResourceKind classifies a monitored compute unit.
type ResourceKind string

const (
	KindCompute      ResourceKind = "compute"
	KindDatabase     ResourceKind = "database"
	KindLoadBalancer ResourceKind = "load-balancer"
	KindStorage      ResourceKind = "storage"
	KindFunction     ResourceKind = "function"
)

// ResourceNode is a monitored compute unit. Nodes are created when first
// observed by a scan (or seeded at startup) and are never deleted, only
// updated.
type ResourceNode struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        ResourceKind      `json:"kind"`
	Criticality Criticality       `json:"criticality"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// DisplayName returns the node name, falling back to the id.
func (n ResourceNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// DependencyEdge is a directed relationship between two resource nodes.
// The graph is a multigraph: parallel edges of different kinds between the
// same pair of nodes are allowed. Edges are immutable once created for a
// given scan generation.
type DependencyEdge struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Kind     string            `json:"kind"` // connects-to, routes-to, reads-from, secured-by, belongs-to
	Metadata map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// Decision Memory
// =============================================================================

// DecisionStatus is the state of a remembered human decision.
type DecisionStatus string

const (
	DecisionRejected DecisionStatus = "REJECTED"
)

// DecisionMemory records a human's rejection of a proposed action on a
// resource. Records are additive: rejections accumulate and are never
// deleted. A later approval on the same resource marks prior rejections
// superseded, which keeps the history but stops it from surfacing as
// "current" in assessments.
type DecisionMemory struct {
	ResourceID   string         `json:"resource_id"`
	Action       string         `json:"action"` // e.g. "downsize m5.4xlarge->m5.xlarge"
	FromSpec     string         `json:"from_spec"`
	ToSpec       string         `json:"to_spec"`
	RejectedBy   string         `json:"rejected_by"`
	Reason       string         `json:"reason"`
	RejectedAt   time.Time      `json:"rejected_at"`
	Status       DecisionStatus `json:"status"`
	SupersededAt time.Time      `json:"superseded_at,omitzero"`
}

// Key returns the idempotency key for a record. Retried writes with the
// same (resource_id, action, rejected_at) must not produce duplicates.
func (m DecisionMemory) Key() string {
	return fmt.Sprintf("%s|%s|%d", m.ResourceID, m.Action, m.RejectedAt.UTC().UnixMilli())
}

// Active reports whether the rejection should still bias assessments:
// status REJECTED and no later approval has superseded it.
func (m DecisionMemory) Active() bool {
	return m.Status == DecisionRejected && m.SupersededAt.IsZero()
}

// =============================================================================
// Query results
// =============================================================================

// Dependency is one node reachable from a traversal root, annotated with
// how it was reached.
type Dependency struct {
	Node         ResourceNode `json:"node"`
	Relationship string       `json:"relationship"` // kind of the edge that completed the path
	Hops         int          `json:"hops"`
}

// Neighborhood is the result of a bounded traversal from a root resource.
type Neighborhood struct {
	RootID       string           `json:"root_id"`
	Dependencies []Dependency     `json:"dependencies"`
	Edges        []DependencyEdge `json:"edges"`
}

// Topology is a seedable set of nodes and edges, used by the seed CLI and
// by tests to build a known graph.
type Topology struct {
	Nodes []ResourceNode   `json:"nodes"`
	Edges []DependencyEdge `json:"edges"`
}
