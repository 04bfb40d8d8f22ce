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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The planner rejects `-[r*1..$hops]-`, so traversal depth must appear in
// the query text as a literal and must never be a bound parameter.
func TestNeighborhoodQueryEmbedsDepthLiteral(t *testing.T) {
	q := neighborhoodQuery(2)
	assert.Contains(t, q, "-[r*1..2]-")
	assert.NotContains(t, q, "$hops")
	assert.NotContains(t, q, "$max_hops")
	assert.Contains(t, q, "$resource_id", "the id stays a bound parameter")

	q5 := neighborhoodQuery(5)
	assert.Contains(t, q5, "-[r*1..5]-")

	edges := neighborhoodEdgesQuery(3)
	assert.Contains(t, edges, "-[r*1..3]-")
	assert.NotContains(t, edges, "$hops")
}

func TestWriteDecisionMemoryQueryMergesOnKey(t *testing.T) {
	assert.Contains(t, writeDecisionMemoryQuery, "MERGE (ra:RejectedAction {key: $key})")
	assert.Contains(t, writeDecisionMemoryQuery, "MERGE (n)-[:HAS_REJECTED_ACTION]->(ra)")
}

func TestCypherRelationshipType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"connects-to", "CONNECTS_TO", false},
		{"routes_to", "ROUTES_TO", false},
		{"ReadsFrom", "READSFROM", false},
		{"", "", true},
		{"drop;match", "", true},
		{"a`b", "", true},
	}
	for _, tt := range tests {
		got, err := cypherRelationshipType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestUpsertEdgeQueryUsesNormalizedType(t *testing.T) {
	kind, err := cypherRelationshipType("connects-to")
	require.NoError(t, err)
	q := upsertEdgeQuery(kind)
	assert.Contains(t, q, "[r:CONNECTS_TO]")
	assert.False(t, strings.Contains(q, "connects-to"))
}

func TestDecisionMemoryKeyStability(t *testing.T) {
	rec := DecisionMemory{ResourceID: "r1", Action: "downsize a->b"}
	rec2 := rec
	assert.Equal(t, rec.Key(), rec2.Key(), "identical records share a key")

	rec2.Action = "downsize a->c"
	assert.NotEqual(t, rec.Key(), rec2.Key())
}
