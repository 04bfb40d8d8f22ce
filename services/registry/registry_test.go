// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

func testCandidate(id string) scanner.Candidate {
	return scanner.Candidate{
		ResourceID:        id,
		Name:              "prod-" + id,
		Service:           "EC2",
		Region:            "us-east-1",
		CurrentSpec:       "m5.2xlarge",
		RecommendedSpec:   "m5.xlarge",
		CPUAvgPct:         3.2,
		CPUP95Pct:         8.1,
		MemoryAvgPct:      14.7,
		MonthlySavingsUSD: decimal.RequireFromString("140.16"),
		ScannedAt:         time.Now().UTC(),
	}
}

func newTestRegistry(t *testing.T) (*Registry, *scm.FakeHost, graph.Store) {
	t.Helper()
	store, err := graph.OpenBadger(graph.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	host := scm.NewFakeHost()
	return New(Config{Host: host, Graph: store}), host, store
}

// prReady walks a finding to pr_ready with an open change request.
func prReady(t *testing.T, r *Registry, host *scm.FakeHost, id string) *scm.ChangeRequest {
	t.Helper()
	ctx := context.Background()
	r.UpsertFromScan([]scanner.Candidate{testCandidate(id)})
	require.NoError(t, r.MarkAnalyzing(id))

	branch := "waste-hunter/downsize-" + id
	require.NoError(t, host.EnsureBranch(ctx, branch))
	cr, err := host.OpenChangeRequest(ctx, scm.NewChangeRequest{Branch: branch, Title: "Downsize " + id})
	require.NoError(t, err)
	require.NoError(t, r.CompletePipeline(id, cr))
	return cr
}

func TestUpsertFromScan(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	t.Run("new candidate creates detected finding", func(t *testing.T) {
		created, updated := r.UpsertFromScan([]scanner.Candidate{testCandidate("i-1")})
		assert.Equal(t, 1, created)
		assert.Equal(t, 0, updated)

		f, err := r.Get(context.Background(), "i-1")
		require.NoError(t, err)
		assert.Equal(t, StatusDetected, f.Status)
		assert.Equal(t, "m5.2xlarge", f.CurrentSpec)
	})

	t.Run("re-scan of live finding updates without resetting state", func(t *testing.T) {
		require.NoError(t, r.MarkAnalyzing("i-1"))

		c := testCandidate("i-1")
		c.CPUAvgPct = 5.5
		created, updated := r.UpsertFromScan([]scanner.Candidate{c})
		assert.Equal(t, 0, created)
		assert.Equal(t, 1, updated)

		f, err := r.Get(context.Background(), "i-1")
		require.NoError(t, err)
		assert.Equal(t, StatusAnalyzing, f.Status, "upsert must not reset lifecycle")
		assert.Equal(t, 5.5, f.Metrics.CPUAvgPct)
	})
}

func TestUpsertReplacesTerminalFinding(t *testing.T) {
	r, host, _ := newTestRegistry(t)
	prReady(t, r, host, "i-2")

	_, err := r.Reject(context.Background(), "i-2", "peak traffic", "alice")
	require.NoError(t, err)

	created, updated := r.UpsertFromScan([]scanner.Candidate{testCandidate("i-2")})
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, updated)

	f, err := r.Get(context.Background(), "i-2")
	require.NoError(t, err)
	assert.Equal(t, StatusDetected, f.Status, "rescan after terminal state starts a fresh finding")
	assert.Nil(t, f.ChangeRequest)
}

func TestLifecycleGuards(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	ctx := context.Background()

	t.Run("unknown resource is ErrNotFound", func(t *testing.T) {
		_, err := r.Get(ctx, "i-missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = r.Approve(ctx, "i-missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("approve before pr_ready is InvalidTransition", func(t *testing.T) {
		r.UpsertFromScan([]scanner.Candidate{testCandidate("i-3")})
		_, err := r.Approve(ctx, "i-3")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		f, err := r.Get(ctx, "i-3")
		require.NoError(t, err)
		assert.Equal(t, StatusDetected, f.Status, "failed approve must not change state")
	})

	t.Run("analyzing is re-enterable for retries", func(t *testing.T) {
		require.NoError(t, r.MarkAnalyzing("i-3"))
		require.NoError(t, r.MarkAnalyzing("i-3"))
	})

	t.Run("pr_ready requires analyzing", func(t *testing.T) {
		r.UpsertFromScan([]scanner.Candidate{testCandidate("i-4")})
		err := r.CompletePipeline("i-4", &scm.ChangeRequest{Number: 9})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestApprove(t *testing.T) {
	r, host, store := newTestRegistry(t)
	ctx := context.Background()

	// leave an active rejection from an earlier finding
	require.NoError(t, store.WriteDecisionMemory(ctx, graph.DecisionMemory{
		ResourceID: "i-5",
		Action:     "downsize-m5.2xlarge->m5.xlarge",
		RejectedBy: "alice",
		Reason:     "peak traffic",
		RejectedAt: time.Now().UTC().Add(-24 * time.Hour),
		Status:     graph.DecisionRejected,
	}))

	cr := prReady(t, r, host, "i-5")

	f, err := r.Approve(ctx, "i-5")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, f.Status)
	assert.Equal(t, scm.ChangeRequestMerged, f.ChangeRequest.State)

	hostCR, err := host.GetChangeRequest(ctx, cr.Number)
	require.NoError(t, err)
	assert.Equal(t, scm.ChangeRequestMerged, hostCR.State)

	recs, err := store.GetDecisionMemory(ctx, "i-5")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Active(), "approval supersedes prior rejections")

	t.Run("second approve fails", func(t *testing.T) {
		_, err := r.Approve(ctx, "i-5")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestReject(t *testing.T) {
	r, host, store := newTestRegistry(t)
	ctx := context.Background()
	cr := prReady(t, r, host, "i-6")

	f, err := r.Reject(ctx, "i-6", "Black Friday traffic spike", "alice@company.com")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, f.Status)
	assert.Equal(t, scm.ChangeRequestClosed, f.ChangeRequest.State)

	hostCR, err := host.GetChangeRequest(ctx, cr.Number)
	require.NoError(t, err)
	assert.Equal(t, scm.ChangeRequestClosed, hostCR.State)

	recs, err := store.GetDecisionMemory(ctx, "i-6")
	require.NoError(t, err)
	require.Len(t, recs, 1, "reject writes exactly one decision memory record")
	rec := recs[0]
	assert.Equal(t, "downsize-m5.2xlarge->m5.xlarge", rec.Action)
	assert.Equal(t, "alice@company.com", rec.RejectedBy)
	assert.Equal(t, "Black Friday traffic spike", rec.Reason)
	assert.True(t, rec.Active())
}

func TestReconciliation(t *testing.T) {
	ctx := context.Background()

	t.Run("out-of-band merge surfaces as approved", func(t *testing.T) {
		r, host, _ := newTestRegistry(t)
		cr := prReady(t, r, host, "i-7")
		host.SetState(cr.Number, scm.ChangeRequestMerged)

		f, err := r.Get(ctx, "i-7")
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, f.Status)
	})

	t.Run("out-of-band close surfaces as rejected without memory", func(t *testing.T) {
		r, host, store := newTestRegistry(t)
		cr := prReady(t, r, host, "i-8")
		host.SetState(cr.Number, scm.ChangeRequestClosed)

		f, err := r.Get(ctx, "i-8")
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, f.Status)

		recs, err := store.GetDecisionMemory(ctx, "i-8")
		require.NoError(t, err)
		assert.Empty(t, recs, "reconciliation carries no human reason to remember")
	})
}

func TestListOrdering(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	small := testCandidate("i-small")
	small.MonthlySavingsUSD = decimal.RequireFromString("10.00")
	big := testCandidate("i-big")
	big.MonthlySavingsUSD = decimal.RequireFromString("413.00")
	r.UpsertFromScan([]scanner.Candidate{small, big})

	findings := r.List()
	require.Len(t, findings, 2)
	assert.Equal(t, "i-big", findings[0].ResourceID, "largest savings first")
}

func TestProgressSingleFlight(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	first, started := r.BeginRun("i-9")
	require.True(t, started)
	assert.Equal(t, StepSeeding, first.Step)

	second, started := r.BeginRun("i-9")
	assert.False(t, started, "second start while running is a no-op")
	assert.Equal(t, first.StartedAt, second.StartedAt)

	t.Run("done run can be restarted", func(t *testing.T) {
		r.FailRun("i-9", "rewrite failed: timeout")
		p, ok := r.GetRun("i-9")
		require.True(t, ok)
		assert.True(t, p.Done)
		assert.Equal(t, StepError, p.Step)
		assert.Equal(t, "rewrite failed: timeout", p.Error)

		_, started := r.BeginRun("i-9")
		assert.True(t, started, "failed runs are retryable")
	})
}

func TestProgressSteps(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, started := r.BeginRun("i-10")
	require.True(t, started)

	require.NoError(t, r.AdvanceRun("i-10", StepReading))
	require.NoError(t, r.AdvanceRun("i-10", StepRewriting))

	t.Run("skipping a step is rejected", func(t *testing.T) {
		err := r.AdvanceRun("i-10", StepDone)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("finish records the change request", func(t *testing.T) {
		require.NoError(t, r.AdvanceRun("i-10", StepCommitting))
		r.FinishRun("i-10", &scm.ChangeRequest{Number: 7, Draft: true})

		p, ok := r.GetRun("i-10")
		require.True(t, ok)
		assert.True(t, p.Done)
		assert.Equal(t, StepDone, p.Step)
		require.NotNil(t, p.ChangeRequest)
		assert.Equal(t, 7, p.ChangeRequest.Number)
	})
}

func TestSweepRuns(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	past := time.Now().UTC().Add(-time.Hour)

	_, _ = r.BeginRun("i-11")
	r.FinishRun("i-11", nil)
	_, ok := r.GetRun("i-11") // observe it
	require.True(t, ok)

	_, _ = r.BeginRun("i-12")
	r.FinishRun("i-12", nil) // done but never observed

	// age both entries
	r.mu.Lock()
	for _, p := range r.progress {
		p.UpdatedAt = past
	}
	r.mu.Unlock()

	collected := r.SweepRuns(15 * time.Minute)
	assert.Equal(t, 1, collected, "only observed entries are collected")

	_, ok = r.GetRun("i-11")
	assert.False(t, ok)
	_, ok = r.GetRun("i-12")
	assert.True(t, ok)
}
