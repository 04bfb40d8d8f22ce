// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/rewrite"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

type fixture struct {
	pipeline *Pipeline
	registry *registry.Registry
	host     *scm.FakeHost
	store    graph.Store
}

func newFixture(t *testing.T, rewriter rewrite.Client) *fixture {
	t.Helper()
	store, err := graph.OpenBadger(graph.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	host := scm.NewFakeHost()
	reg := registry.New(registry.Config{Host: host, Graph: store})
	p := New(Config{
		Registry: reg,
		Assessor: blast.NewAssessor(store),
		Host:     host,
		Rewriter: rewriter,
	})
	return &fixture{pipeline: p, registry: reg, host: host, store: store}
}

func (fx *fixture) upsert(t *testing.T, id string) {
	t.Helper()
	fx.registry.UpsertFromScan([]scanner.Candidate{{
		ResourceID: id,
		Name:       "prod-api-server-03",
		Service:    "EC2",
		Region:     "us-east-1",
		// matches the embedded terraform template so the local rewriter
		// finds the instance type
		CurrentSpec:       "m5.4xlarge",
		RecommendedSpec:   "m5.xlarge",
		MonthlySavingsUSD: decimal.RequireFromString("413.00"),
		AnnualSavingsUSD:  decimal.RequireFromString("4956.00"),
		Evidence:          []string{"CPU avg 3.2% over last 1h0m0s (threshold: <10.0%)"},
		ScannedAt:         time.Now().UTC(),
	}})
}

func (fx *fixture) waitDone(t *testing.T, id string) registry.Progress {
	t.Helper()
	var p registry.Progress
	require.Eventually(t, func() bool {
		var ok bool
		p, ok = fx.registry.GetRun(id)
		return ok && p.Done
	}, 5*time.Second, 10*time.Millisecond)
	return p
}

func TestPipelineSuccess(t *testing.T) {
	fx := newFixture(t, rewrite.NewLocalRewriter())
	ctx := context.Background()
	fx.upsert(t, "i-ok")

	prog, err := fx.pipeline.Start(ctx, "i-ok")
	require.NoError(t, err)
	assert.Equal(t, registry.StepSeeding, prog.Step)

	final := fx.waitDone(t, "i-ok")
	assert.Equal(t, registry.StepDone, final.Step)
	assert.Empty(t, final.Error)
	require.NotNil(t, final.ChangeRequest)

	t.Run("finding reaches pr_ready with the change request", func(t *testing.T) {
		f, err := fx.registry.Get(ctx, "i-ok")
		require.NoError(t, err)
		assert.Equal(t, registry.StatusPRReady, f.Status)
		require.NotNil(t, f.ChangeRequest)
		assert.Equal(t, final.ChangeRequest.Number, f.ChangeRequest.Number)
		assert.False(t, f.ChangeRequest.Draft, "no dependencies means no draft")
		assert.Equal(t, blast.RiskSafe, f.BlastRisk)
	})

	t.Run("branch carries the rewritten files", func(t *testing.T) {
		content, err := fx.host.ReadFile(ctx, BranchName("i-ok"), "infra/terraform/main.tf")
		require.NoError(t, err)
		assert.Contains(t, content, `instance_type = "m5.xlarge"`)
		assert.Contains(t, content, "downsized from m5.4xlarge")

		k8s, err := fx.host.ReadFile(ctx, BranchName("i-ok"), "infra/k8s/deployment.yaml")
		require.NoError(t, err)
		assert.Contains(t, k8s, `cpu: "2000m"`)
	})

	t.Run("base branch was seeded untouched", func(t *testing.T) {
		content, err := fx.host.ReadFile(ctx, "main", "infra/terraform/main.tf")
		require.NoError(t, err)
		assert.Contains(t, content, `instance_type = "m5.4xlarge"`)
	})
}

func TestPipelineDraftOnCriticalRisk(t *testing.T) {
	fx := newFixture(t, rewrite.NewLocalRewriter())
	ctx := context.Background()

	require.NoError(t, fx.store.UpsertNode(ctx, graph.ResourceNode{
		ID: "i-risky", Name: "prod-api-server-03", Kind: graph.KindCompute, Criticality: graph.CriticalityLow}))
	require.NoError(t, fx.store.UpsertNode(ctx, graph.ResourceNode{
		ID: "db-1", Name: "recommendation-db", Kind: graph.KindDatabase, Criticality: graph.CriticalityHigh}))
	require.NoError(t, fx.store.UpsertEdge(ctx, graph.DependencyEdge{
		From: "i-risky", To: "db-1", Kind: "connects_to"}))

	fx.upsert(t, "i-risky")
	_, err := fx.pipeline.Start(ctx, "i-risky")
	require.NoError(t, err)
	final := fx.waitDone(t, "i-risky")

	require.NotNil(t, final.ChangeRequest)
	assert.True(t, final.ChangeRequest.Draft, "CRITICAL risk opens a draft")

	f, err := fx.registry.Get(ctx, "i-risky")
	require.NoError(t, err)
	assert.Equal(t, blast.RiskCritical, f.BlastRisk)
	require.NotEmpty(t, f.BlastReasons)
	assert.Equal(t, "db-1 (connects_to, 1 hop, HIGH)", f.BlastReasons[0])
}

// blockingRewriter parks every Rewrite call until released.
type blockingRewriter struct {
	release chan struct{}
}

func (b *blockingRewriter) Rewrite(ctx context.Context, req rewrite.Request) (string, error) {
	select {
	case <-b.release:
		return rewrite.NewLocalRewriter().Rewrite(ctx, req)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestPipelineSingleFlight(t *testing.T) {
	blocker := &blockingRewriter{release: make(chan struct{})}
	fx := newFixture(t, blocker)
	ctx := context.Background()
	fx.upsert(t, "i-once")

	first, err := fx.pipeline.Start(ctx, "i-once")
	require.NoError(t, err)

	second, err := fx.pipeline.Start(ctx, "i-once")
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt, second.StartedAt, "second start returns the running entry")

	close(blocker.release)
	fx.waitDone(t, "i-once")

	crs := 0
	for n := 1; ; n++ {
		if _, err := fx.host.GetChangeRequest(ctx, n); err != nil {
			break
		}
		crs++
	}
	assert.Equal(t, 1, crs, "exactly one change request for two starts")
}

type failingRewriter struct{}

func (failingRewriter) Rewrite(context.Context, rewrite.Request) (string, error) {
	return "", fmt.Errorf("%w: gateway timeout", rewrite.ErrRewriteFailed)
}

func TestPipelineRetryAfterRewriteFailure(t *testing.T) {
	fx := newFixture(t, failingRewriter{})
	ctx := context.Background()
	fx.upsert(t, "i-retry")

	_, err := fx.pipeline.Start(ctx, "i-retry")
	require.NoError(t, err)
	failed := fx.waitDone(t, "i-retry")
	assert.Equal(t, registry.StepError, failed.Step)
	assert.Contains(t, failed.Error, "rewriting")

	f, err := fx.registry.Get(ctx, "i-retry")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusAnalyzing, f.Status, "failure leaves lifecycle where it was")

	t.Run("retry reuses the branch and succeeds", func(t *testing.T) {
		retry := New(Config{
			Registry: fx.registry,
			Assessor: blast.NewAssessor(fx.store),
			Host:     fx.host,
			Rewriter: rewrite.NewLocalRewriter(),
		})
		_, err := retry.Start(ctx, "i-retry")
		require.NoError(t, err)
		final := fx.waitDone(t, "i-retry")
		assert.Equal(t, registry.StepDone, final.Step)
		require.NotNil(t, final.ChangeRequest)
		assert.Equal(t, BranchName("i-retry"), final.ChangeRequest.Branch,
			"branch name is a pure function of the resource id")
	})
}

func TestPipelineFailsClosedWhenGraphUnavailable(t *testing.T) {
	fx := newFixture(t, rewrite.NewLocalRewriter())
	ctx := context.Background()
	fx.upsert(t, "i-dark")

	// graph gone before the run assesses
	require.NoError(t, fx.store.Close(ctx))

	_, err := fx.pipeline.Start(ctx, "i-dark")
	require.NoError(t, err)
	final := fx.waitDone(t, "i-dark")

	assert.Equal(t, registry.StepError, final.Step)
	assert.Contains(t, final.Error, "assessment")

	_, err = fx.host.ReadFile(ctx, "main", "infra/terraform/main.tf")
	assert.Error(t, err, "no host side effects before assessment passes")
}

func TestPipelineRejectsUnknownResource(t *testing.T) {
	fx := newFixture(t, rewrite.NewLocalRewriter())
	_, err := fx.pipeline.Start(context.Background(), "i-missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestChangeRequestBody(t *testing.T) {
	f := registry.Finding{
		ResourceID:        "i-1",
		Name:              "prod-api-server-03",
		CurrentSpec:       "m5.4xlarge",
		RecommendedSpec:   "m5.xlarge",
		MonthlySavingsUSD: decimal.RequireFromString("413.00"),
		AnnualSavingsUSD:  decimal.RequireFromString("4956.00"),
		Evidence:          []string{"CPU avg 3.2%"},
	}
	a := blast.Assessment{
		Risk:    blast.RiskCritical,
		Reasons: []string{"recommendation-db (connects_to, 1 hop, HIGH)"},
	}

	body := changeRequestBody(f, a, true)
	assert.True(t, strings.HasPrefix(body, "> **DRAFT**"))
	assert.Contains(t, body, "| **Monthly Savings** | $413.00 |")
	assert.Contains(t, body, "recommendation-db (connects_to, 1 hop, HIGH)")
	assert.Contains(t, body, "CPU avg 3.2%")

	title := changeRequestTitle(f)
	assert.Equal(t, "[WasteHunter] Downsize prod-api-server-03: m5.4xlarge->m5.xlarge ($413/mo savings)", title)
}
