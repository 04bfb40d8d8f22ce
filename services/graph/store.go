// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"sort"
)

// ErrUnavailable wraps failures to reach the backing graph database.
// Callers treat it as "fail closed": no risk defaulting, no pipeline
// progress past assessment.
var ErrUnavailable = errors.New("dependency graph unavailable")

// Store is the contract for the dependency graph.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; writes are idempotent
// per record key, which makes the store externally consistent without a
// distributed transaction against the finding registry.
type Store interface {
	// GetNeighborhood returns every node reachable from resourceID within
	// maxHops hops, traversing edges in BOTH directions (a load balancer
	// that routes TO the root is as much blast radius as a database the
	// root reads FROM). Each reachable node is annotated with its hop
	// distance and the relationship kind that completed the shortest path
	// to it; all traversed edges are returned alongside.
	//
	// maxHops is clamped to [validation.MinHops, validation.MaxHops] and is
	// a query-construction-time value: backends that cannot parameterize a
	// variable-length path bound embed the validated literal in the query
	// text.
	GetNeighborhood(ctx context.Context, resourceID string, maxHops int) (*Neighborhood, error)

	// GetDecisionMemory returns all decision-memory records for a resource,
	// most recent first. Superseded records are included; callers filter
	// with DecisionMemory.Active.
	GetDecisionMemory(ctx context.Context, resourceID string) ([]DecisionMemory, error)

	// WriteDecisionMemory appends a record and links it to the resource
	// node. Idempotent under retried writes with the same Key().
	WriteDecisionMemory(ctx context.Context, rec DecisionMemory) error

	// SupersedeDecisionMemory marks every active REJECTED record for the
	// resource as superseded at the given time. History is retained.
	SupersedeDecisionMemory(ctx context.Context, resourceID string, at int64) error

	// UpsertNode creates or updates a resource node.
	UpsertNode(ctx context.Context, node ResourceNode) error

	// UpsertEdge creates an edge. Parallel edges of different kinds between
	// the same pair are allowed; re-writing the same (from, to, kind) is a
	// no-op update.
	UpsertEdge(ctx context.Context, edge DependencyEdge) error

	// Seed loads a whole topology, upserting nodes before edges.
	Seed(ctx context.Context, topo Topology) error

	// Ping verifies connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close releases the backing connection or database handle.
	Close(ctx context.Context) error
}

// sortDependencies orders a neighborhood the way assessments consume it:
// higher criticality first, nearer hops first within a band, then by id for
// a stable order.
func sortDependencies(deps []Dependency) {
	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].Node.Criticality != deps[j].Node.Criticality {
			return deps[i].Node.Criticality.rank() > deps[j].Node.Criticality.rank()
		}
		if deps[i].Hops != deps[j].Hops {
			return deps[i].Hops < deps[j].Hops
		}
		return deps[i].Node.ID < deps[j].Node.ID
	})
}

// sortDecisionsMostRecentFirst orders memory records newest first.
func sortDecisionsMostRecentFirst(recs []DecisionMemory) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RejectedAt.After(recs[j].RejectedAt)
	})
}
