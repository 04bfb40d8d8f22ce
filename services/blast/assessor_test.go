// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package blast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/wastehunter/services/graph"
)

func newAssessorWithStore(t *testing.T) (*Assessor, *graph.BadgerStore) {
	t.Helper()
	store, err := graph.OpenBadger(graph.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return NewAssessor(store), store
}

func TestAssessSafeWithNoDependenciesAndNoMemory(t *testing.T) {
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r1", Kind: graph.KindCompute}))

	result, err := a.Assess(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RiskSafe, result.Risk)
	assert.Empty(t, result.Reasons)
	assert.Empty(t, result.Dependencies)
	assert.True(t, result.Risk.SafeToProceed())
}

func TestAssessCriticalFromHighDependency(t *testing.T) {
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r2", Kind: graph.KindCompute}))
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{
		ID: "db1", Name: "db1", Kind: graph.KindDatabase, Criticality: graph.CriticalityHigh,
	}))
	require.NoError(t, store.UpsertEdge(ctx, graph.DependencyEdge{From: "r2", To: "db1", Kind: "connects_to"}))

	result, err := a.Assess(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, result.Risk)
	require.NotEmpty(t, result.Reasons)
	assert.Equal(t, "db1 (connects_to, 1 hop, HIGH)", result.Reasons[0])
	require.Len(t, result.Dependencies, 1)
	assert.Equal(t, "db1", result.Dependencies[0].Node.ID)
	assert.False(t, result.Risk.SafeToProceed())
}

func TestAssessCriticalFromMemoryAlone(t *testing.T) {
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r3", Kind: graph.KindCompute}))
	require.NoError(t, store.WriteDecisionMemory(ctx, graph.DecisionMemory{
		ResourceID: "r3",
		Action:     "downsize m5.4xlarge->m5.xlarge",
		RejectedBy: "alice",
		Reason:     "peak traffic",
		RejectedAt: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC),
		Status:     graph.DecisionRejected,
	}))

	result, err := a.Assess(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, result.Risk, "memory alone is critical")
	require.Len(t, result.Reasons, 1)
	assert.Contains(t, result.Reasons[0], "alice")
	assert.Contains(t, result.Reasons[0], "peak traffic")
	assert.Len(t, result.Rejections, 1)
}

func TestAssessReasonOrdering(t *testing.T) {
	// HIGH dependency plus an active rejection: CRITICAL, with the
	// dependency-derived reasons strictly before the memory-derived ones.
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r4", Kind: graph.KindCompute}))
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{
		ID: "alb1", Name: "prod-alb", Kind: graph.KindLoadBalancer, Criticality: graph.CriticalityHigh,
	}))
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{
		ID: "cache1", Name: "session-cache", Kind: graph.KindStorage, Criticality: graph.CriticalityMedium,
	}))
	require.NoError(t, store.UpsertEdge(ctx, graph.DependencyEdge{From: "alb1", To: "r4", Kind: "routes_to"}))
	require.NoError(t, store.UpsertEdge(ctx, graph.DependencyEdge{From: "r4", To: "cache1", Kind: "reads_from"}))
	require.NoError(t, store.WriteDecisionMemory(ctx, graph.DecisionMemory{
		ResourceID: "r4",
		Action:     "downsize",
		RejectedBy: "bob",
		Reason:     "board demo week",
		RejectedAt: time.Now().UTC(),
		Status:     graph.DecisionRejected,
	}))

	result, err := a.Assess(ctx, "r4")
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, result.Risk)
	require.Len(t, result.Reasons, 3)
	assert.True(t, strings.HasPrefix(result.Reasons[0], "prod-alb"), "HIGH dependency first, got %q", result.Reasons[0])
	assert.True(t, strings.HasPrefix(result.Reasons[1], "session-cache"), "MEDIUM dependency second, got %q", result.Reasons[1])
	assert.Contains(t, result.Reasons[2], "bob", "rejection entry last")
}

func TestAssessMediumAndLowBands(t *testing.T) {
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r5", Kind: graph.KindCompute}))
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{
		ID: "low1", Kind: graph.KindCompute, Criticality: graph.CriticalityLow,
	}))
	require.NoError(t, store.UpsertEdge(ctx, graph.DependencyEdge{From: "r5", To: "low1", Kind: "belongs_to"}))

	result, err := a.Assess(ctx, "r5")
	require.NoError(t, err)
	assert.Equal(t, RiskLow, result.Risk)

	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{
		ID: "med1", Kind: graph.KindStorage, Criticality: graph.CriticalityMedium,
	}))
	require.NoError(t, store.UpsertEdge(ctx, graph.DependencyEdge{From: "r5", To: "med1", Kind: "reads_from"}))

	result, err = a.Assess(ctx, "r5")
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, result.Risk)
	require.Len(t, result.Reasons, 1, "LOW dependencies produce no reason entries")
	assert.Contains(t, result.Reasons[0], "med1")
}

func TestAssessSupersededRejectionDoesNotBias(t *testing.T) {
	a, store := newAssessorWithStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertNode(ctx, graph.ResourceNode{ID: "r6", Kind: graph.KindCompute}))
	require.NoError(t, store.WriteDecisionMemory(ctx, graph.DecisionMemory{
		ResourceID: "r6",
		Action:     "downsize",
		RejectedBy: "carol",
		Reason:     "migration in flight",
		RejectedAt: time.Now().Add(-24 * time.Hour).UTC(),
		Status:     graph.DecisionRejected,
	}))
	require.NoError(t, store.SupersedeDecisionMemory(ctx, "r6", time.Now().UnixMilli()))

	result, err := a.Assess(ctx, "r6")
	require.NoError(t, err)
	assert.Equal(t, RiskSafe, result.Risk, "superseded memory no longer biases the assessment")
	assert.Empty(t, result.Rejections)
}

func TestAssessFailsClosedWhenStoreUnavailable(t *testing.T) {
	store, err := graph.OpenBadger(graph.InMemoryBadgerConfig())
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))

	a := NewAssessor(store)
	_, err = a.Assess(context.Background(), "r7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDependencyUnavailable), "got %v", err)
}
