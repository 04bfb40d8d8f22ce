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
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/wastehunter/pkg/validation"
)

// Neo4jConfig holds connection settings for the server-backed graph store.
type Neo4jConfig struct {
	URI      string // e.g. neo4j+s://xxxx.databases.neo4j.io
	Username string
	Password string
}

// Neo4jStore is the server-backed Store implementation.
//
// Cypher cannot bind a parameter as a variable-length path bound: a query
// like `-[r*1..$hops]-` is rejected by the planner. Traversal depth is
// therefore clamped by pkg/validation and embedded into the query text as
// an integer literal at construction time; every other value stays a bound
// parameter.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

var _ Store = (*Neo4jStore)(nil)

// OpenNeo4j connects to Neo4j and verifies connectivity.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: creating neo4j driver: %v", ErrUnavailable, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("%w: verifying neo4j connectivity: %v", ErrUnavailable, err)
	}
	return &Neo4jStore{driver: driver}, nil
}

// Close shuts down the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// =============================================================================
// Query construction
// =============================================================================

// neighborhoodQuery builds the dependency traversal for a given depth.
// hops must already be clamped; it is the only value spliced into the text.
func neighborhoodQuery(hops int) string {
	return fmt.Sprintf(`
MATCH path = (root:Resource {id: $resource_id})-[r*1..%d]-(dep:Resource)
WHERE dep.id <> $resource_id
WITH dep,
     length(path)                    AS hops,
     type(last(relationships(path))) AS rel_kind
ORDER BY hops ASC
WITH dep, collect(hops)[0] AS hops, collect(rel_kind)[0] AS rel_kind
RETURN dep.id                             AS node_id,
       coalesce(dep.name, dep.id)         AS name,
       coalesce(dep.kind, 'compute')      AS kind,
       coalesce(dep.criticality, 'LOW')   AS criticality,
       rel_kind                           AS relationship,
       hops`, hops)
}

// neighborhoodEdgesQuery builds the traversed-edge listing for a depth.
func neighborhoodEdgesQuery(hops int) string {
	return fmt.Sprintf(`
MATCH path = (root:Resource {id: $resource_id})-[r*1..%d]-(dep:Resource)
WHERE dep.id <> $resource_id
UNWIND relationships(path) AS rel
WITH DISTINCT rel
RETURN startNode(rel).id AS from_id,
       endNode(rel).id   AS to_id,
       type(rel)         AS kind`, hops)
}

const decisionMemoryQuery = `
MATCH (n:Resource {id: $resource_id})-[:HAS_REJECTED_ACTION]->(ra:RejectedAction)
RETURN ra.action        AS action,
       ra.from_spec     AS from_spec,
       ra.to_spec       AS to_spec,
       ra.rejected_by   AS rejected_by,
       ra.reason        AS reason,
       ra.rejected_at   AS rejected_at,
       ra.status        AS status,
       ra.superseded_at AS superseded_at
ORDER BY ra.rejected_at DESC`

const writeDecisionMemoryQuery = `
MATCH (n:Resource {id: $resource_id})
MERGE (ra:RejectedAction {key: $key})
SET ra.action      = $action,
    ra.from_spec   = $from_spec,
    ra.to_spec     = $to_spec,
    ra.rejected_by = $rejected_by,
    ra.reason      = $reason,
    ra.rejected_at = $rejected_at,
    ra.status      = $status
MERGE (n)-[:HAS_REJECTED_ACTION]->(ra)`

const supersedeDecisionMemoryQuery = `
MATCH (n:Resource {id: $resource_id})-[:HAS_REJECTED_ACTION]->(ra:RejectedAction)
WHERE ra.status = 'REJECTED' AND ra.superseded_at IS NULL
SET ra.superseded_at = $superseded_at`

const upsertNodeQuery = `
MERGE (n:Resource {id: $id})
SET n.name        = $name,
    n.kind        = $kind,
    n.criticality = $criticality`

// upsertEdgeQuery embeds the relationship type: Cypher cannot parameterize
// a relationship type any more than a path bound. Kinds are validated to a
// known identifier shape before splicing.
func upsertEdgeQuery(kind string) string {
	return fmt.Sprintf(`
MATCH (a:Resource {id: $from_id})
MATCH (b:Resource {id: $to_id})
MERGE (a)-[r:%s]->(b)`, kind)
}

// =============================================================================
// Store implementation
// =============================================================================

// GetNeighborhood traverses up to maxHops relationships in either direction.
func (s *Neo4jStore) GetNeighborhood(ctx context.Context, resourceID string, maxHops int) (*Neighborhood, error) {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return nil, err
	}
	hops := validation.ClampHops(maxHops)
	params := map[string]any{"resource_id": resourceID}

	nb := &Neighborhood{RootID: resourceID}

	depRecords, err := s.read(ctx, neighborhoodQuery(hops), params)
	if err != nil {
		return nil, err
	}
	for _, rec := range depRecords {
		nb.Dependencies = append(nb.Dependencies, Dependency{
			Node: ResourceNode{
				ID:          stringValue(rec, "node_id"),
				Name:        stringValue(rec, "name"),
				Kind:        ResourceKind(stringValue(rec, "kind")),
				Criticality: Criticality(stringValue(rec, "criticality")),
			},
			Relationship: stringValue(rec, "relationship"),
			Hops:         intValue(rec, "hops"),
		})
	}

	edgeRecords, err := s.read(ctx, neighborhoodEdgesQuery(hops), params)
	if err != nil {
		return nil, err
	}
	for _, rec := range edgeRecords {
		nb.Edges = append(nb.Edges, DependencyEdge{
			From: stringValue(rec, "from_id"),
			To:   stringValue(rec, "to_id"),
			Kind: stringValue(rec, "kind"),
		})
	}

	sortDependencies(nb.Dependencies)
	return nb, nil
}

// GetDecisionMemory returns all records, most recent first (ordered by the
// query; re-sorted defensively since callers rely on it).
func (s *Neo4jStore) GetDecisionMemory(ctx context.Context, resourceID string) ([]DecisionMemory, error) {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return nil, err
	}
	records, err := s.read(ctx, decisionMemoryQuery, map[string]any{"resource_id": resourceID})
	if err != nil {
		return nil, err
	}
	recs := make([]DecisionMemory, 0, len(records))
	for _, rec := range records {
		m := DecisionMemory{
			ResourceID: resourceID,
			Action:     stringValue(rec, "action"),
			FromSpec:   stringValue(rec, "from_spec"),
			ToSpec:     stringValue(rec, "to_spec"),
			RejectedBy: stringValue(rec, "rejected_by"),
			Reason:     stringValue(rec, "reason"),
			RejectedAt: time.UnixMilli(int64Value(rec, "rejected_at")).UTC(),
			Status:     DecisionStatus(stringValue(rec, "status")),
		}
		if ts := int64Value(rec, "superseded_at"); ts > 0 {
			m.SupersededAt = time.UnixMilli(ts).UTC()
		}
		recs = append(recs, m)
	}
	sortDecisionsMostRecentFirst(recs)
	return recs, nil
}

// WriteDecisionMemory MERGEs on the idempotency key, so a retried identical
// write updates the same node instead of creating a duplicate.
func (s *Neo4jStore) WriteDecisionMemory(ctx context.Context, rec DecisionMemory) error {
	if err := validation.ValidateResourceID(rec.ResourceID); err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = DecisionRejected
	}
	return s.write(ctx, writeDecisionMemoryQuery, map[string]any{
		"resource_id": rec.ResourceID,
		"key":         rec.Key(),
		"action":      rec.Action,
		"from_spec":   rec.FromSpec,
		"to_spec":     rec.ToSpec,
		"rejected_by": rec.RejectedBy,
		"reason":      rec.Reason,
		"rejected_at": rec.RejectedAt.UTC().UnixMilli(),
		"status":      string(rec.Status),
	})
}

// SupersedeDecisionMemory stamps active rejections with the supersession time.
func (s *Neo4jStore) SupersedeDecisionMemory(ctx context.Context, resourceID string, at int64) error {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return err
	}
	return s.write(ctx, supersedeDecisionMemoryQuery, map[string]any{
		"resource_id":   resourceID,
		"superseded_at": at,
	})
}

// UpsertNode creates or updates a resource node.
func (s *Neo4jStore) UpsertNode(ctx context.Context, node ResourceNode) error {
	if err := validation.ValidateResourceID(node.ID); err != nil {
		return err
	}
	if node.Criticality == "" {
		node.Criticality = CriticalityLow
	}
	return s.write(ctx, upsertNodeQuery, map[string]any{
		"id":          node.ID,
		"name":        node.DisplayName(),
		"kind":        string(node.Kind),
		"criticality": string(node.Criticality),
	})
}

// UpsertEdge creates the relationship if absent.
func (s *Neo4jStore) UpsertEdge(ctx context.Context, edge DependencyEdge) error {
	if err := validation.ValidateResourceID(edge.From); err != nil {
		return fmt.Errorf("edge from: %w", err)
	}
	if err := validation.ValidateResourceID(edge.To); err != nil {
		return fmt.Errorf("edge to: %w", err)
	}
	kind, err := cypherRelationshipType(edge.Kind)
	if err != nil {
		return err
	}
	return s.write(ctx, upsertEdgeQuery(kind), map[string]any{
		"from_id": edge.From,
		"to_id":   edge.To,
	})
}

// Seed loads a topology, nodes before edges.
func (s *Neo4jStore) Seed(ctx context.Context, topo Topology) error {
	for _, n := range topo.Nodes {
		if err := s.UpsertNode(ctx, n); err != nil {
			return err
		}
	}
	for _, e := range topo.Edges {
		if err := s.UpsertEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// cypherRelationshipType normalizes an edge kind ("connects-to") into a
// relationship type safe to splice into query text ("CONNECTS_TO").
func cypherRelationshipType(kind string) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("edge kind cannot be empty")
	}
	out := make([]rune, 0, len(kind))
	for _, r := range kind {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			out = append(out, r)
		case r == '-' || r == '_' || r == ' ':
			out = append(out, '_')
		default:
			return "", fmt.Errorf("invalid edge kind %q", kind)
		}
	}
	return string(out), nil
}

func (s *Neo4jStore) read(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var out []map[string]any
		for result.Next(ctx) {
			out = append(out, result.Record().AsMap())
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return records.([]map[string]any), nil
}

func (s *Neo4jStore) write(ctx context.Context, query string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		_, err = result.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func stringValue(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func intValue(rec map[string]any, key string) int {
	return int(int64Value(rec, key))
}

func int64Value(rec map[string]any, key string) int64 {
	switch v := rec[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
