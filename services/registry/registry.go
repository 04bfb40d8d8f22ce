// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

// Config wires the registry's collaborators. Host and Graph may be nil in
// tests that only exercise the in-memory state machine.
type Config struct {
	// Host is consulted to merge/close change requests and to reconcile
	// finding state against out-of-band host activity.
	Host scm.Host

	// Graph receives decision-memory writes on reject and supersedes them
	// on approve.
	Graph graph.Store
}

// Registry owns findings and pipeline progress. Every lifecycle operation
// for a resource id runs under that resource's lock, so transitions never
// race progress updates or each other.
type Registry struct {
	mu       sync.Mutex
	findings map[string]*Finding
	progress map[string]*Progress
	locks    map[string]*sync.Mutex

	host  scm.Host
	graph graph.Store
	now   func() time.Time
}

func New(cfg Config) *Registry {
	return &Registry{
		findings: map[string]*Finding{},
		progress: map[string]*Progress{},
		locks:    map[string]*sync.Mutex{},
		host:     cfg.Host,
		graph:    cfg.Graph,
		now:      time.Now,
	}
}

// keyLock returns the per-resource mutex, creating it on first use. Callers
// hold it across collaborator I/O so lifecycle transitions stay serialized.
func (r *Registry) keyLock(resourceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[resourceID] = l
	}
	return l
}

// ====================================================================
// Scan upserts
// ====================================================================

// UpsertFromScan folds scan candidates into the registry. A candidate for an
// unknown resource, or one whose prior finding already reached a terminal
// state, creates a fresh detected finding. A candidate for a live finding
// refreshes its evidence without touching lifecycle state, so re-scanning
// mid-pipeline never duplicates or resets a finding.
func (r *Registry) UpsertFromScan(candidates []scanner.Candidate) (created, updated int) {
	for _, c := range candidates {
		lock := r.keyLock(c.ResourceID)
		lock.Lock()

		r.mu.Lock()
		existing, ok := r.findings[c.ResourceID]
		now := r.now().UTC()
		if !ok || existing.Status.Terminal() {
			r.findings[c.ResourceID] = newFinding(c, now)
			created++
		} else {
			refreshFinding(existing, c, now)
			updated++
		}
		r.mu.Unlock()

		lock.Unlock()
	}
	slog.Info("scan upsert", "created", created, "updated", updated)
	return created, updated
}

func newFinding(c scanner.Candidate, now time.Time) *Finding {
	return &Finding{
		ResourceID:        c.ResourceID,
		Name:              c.Name,
		Service:           c.Service,
		Region:            c.Region,
		CurrentSpec:       c.CurrentSpec,
		RecommendedSpec:   c.RecommendedSpec,
		Metrics:           Metrics{CPUAvgPct: c.CPUAvgPct, CPUP95Pct: c.CPUP95Pct, MemoryAvgPct: c.MemoryAvgPct},
		MonthlySavingsUSD: c.MonthlySavingsUSD,
		AnnualSavingsUSD:  c.AnnualSavingsUSD,
		Evidence:          append([]string(nil), c.Evidence...),
		Status:            StatusDetected,
		ScannedAt:         c.ScannedAt,
		UpdatedAt:         now,
	}
}

func refreshFinding(f *Finding, c scanner.Candidate, now time.Time) {
	f.Name = c.Name
	f.CurrentSpec = c.CurrentSpec
	f.RecommendedSpec = c.RecommendedSpec
	f.Metrics = Metrics{CPUAvgPct: c.CPUAvgPct, CPUP95Pct: c.CPUP95Pct, MemoryAvgPct: c.MemoryAvgPct}
	f.MonthlySavingsUSD = c.MonthlySavingsUSD
	f.AnnualSavingsUSD = c.AnnualSavingsUSD
	f.Evidence = append([]string(nil), c.Evidence...)
	f.ScannedAt = c.ScannedAt
	f.UpdatedAt = now
}

// ====================================================================
// Reads
// ====================================================================

// List returns all findings sorted by monthly savings, largest first.
func (r *Registry) List() []Finding {
	r.mu.Lock()
	out := make([]Finding, 0, len(r.findings))
	for _, f := range r.findings {
		out = append(out, cloneFinding(f))
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MonthlySavingsUSD.Equal(out[j].MonthlySavingsUSD) {
			return out[i].MonthlySavingsUSD.GreaterThan(out[j].MonthlySavingsUSD)
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out
}

// Get returns one finding, reconciling it against the host first: a change
// request merged or closed out of band moves the finding to its terminal
// state here, since no transaction spans the host and this registry.
func (r *Registry) Get(ctx context.Context, resourceID string) (Finding, error) {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	f, err := r.getLocked(resourceID)
	if err != nil {
		return Finding{}, err
	}
	r.reconcileLocked(ctx, f)
	return cloneFinding(f), nil
}

func (r *Registry) getLocked(resourceID string) (*Finding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.findings[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, resourceID)
	}
	return f, nil
}

// reconcileLocked folds host-side change-request state into the finding.
// Out-of-band closures map to rejected without synthesizing decision memory;
// only an explicit Reject carries a human reason worth remembering.
func (r *Registry) reconcileLocked(ctx context.Context, f *Finding) {
	if r.host == nil || f.Status != StatusPRReady || f.ChangeRequest == nil {
		return
	}
	cr, err := r.host.GetChangeRequest(ctx, f.ChangeRequest.Number)
	if err != nil {
		slog.Warn("change request reconciliation failed",
			"resource_id", f.ResourceID, "number", f.ChangeRequest.Number, "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	f.ChangeRequest = cr
	switch cr.State {
	case scm.ChangeRequestMerged:
		slog.Info("reconciled merged change request", "resource_id", f.ResourceID)
		f.Status = StatusApproved
		f.UpdatedAt = r.now().UTC()
	case scm.ChangeRequestClosed:
		slog.Info("reconciled closed change request", "resource_id", f.ResourceID)
		f.Status = StatusRejected
		f.UpdatedAt = r.now().UTC()
	}
}

// ====================================================================
// Pipeline-driven transitions
// ====================================================================

// MarkAnalyzing moves a finding into analyzing at the start of a pipeline
// run. Re-entering analyzing is allowed so failed runs can retry.
func (r *Registry) MarkAnalyzing(resourceID string) error {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()
	return r.transitionLocked(resourceID, StatusAnalyzing)
}

// SetAssessment records the blast-radius verdict on the finding.
func (r *Registry) SetAssessment(resourceID string, a blast.Assessment) error {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	f, err := r.getLocked(resourceID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	f.BlastRisk = a.Risk
	f.BlastReasons = append([]string(nil), a.Reasons...)
	f.UpdatedAt = r.now().UTC()
	r.mu.Unlock()
	return nil
}

// CompletePipeline attaches the opened change request and moves the finding
// to pr_ready.
func (r *Registry) CompletePipeline(resourceID string, cr *scm.ChangeRequest) error {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	f, err := r.getLocked(resourceID)
	if err != nil {
		return err
	}
	if !canTransition(f.Status, StatusPRReady) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, f.Status, StatusPRReady, resourceID)
	}
	r.mu.Lock()
	f.ChangeRequest = cr
	f.Status = StatusPRReady
	f.UpdatedAt = r.now().UTC()
	r.mu.Unlock()
	return nil
}

func (r *Registry) transitionLocked(resourceID string, to Status) error {
	f, err := r.getLocked(resourceID)
	if err != nil {
		return err
	}
	if !canTransition(f.Status, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, f.Status, to, resourceID)
	}
	r.mu.Lock()
	f.Status = to
	f.UpdatedAt = r.now().UTC()
	r.mu.Unlock()
	return nil
}

// ====================================================================
// Human decisions
// ====================================================================

// Approve merges the finding's change request and marks it approved. It also
// supersedes any active rejections for the resource so future assessments
// stop treating them as current. Requires pr_ready.
func (r *Registry) Approve(ctx context.Context, resourceID string) (Finding, error) {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	f, err := r.getLocked(resourceID)
	if err != nil {
		return Finding{}, err
	}
	r.reconcileLocked(ctx, f)
	if f.Status != StatusPRReady || f.ChangeRequest == nil {
		return Finding{}, fmt.Errorf("%w: approve requires pr_ready, finding is %s", ErrInvalidTransition, f.Status)
	}

	if err := r.host.MergeChangeRequest(ctx, f.ChangeRequest.Number); err != nil {
		return Finding{}, err
	}
	if r.graph != nil {
		at := r.now().UTC().UnixMilli()
		if err := r.graph.SupersedeDecisionMemory(ctx, resourceID, at); err != nil {
			// The merge already happened; the finding must still land in
			// approved. Stale memory only biases future risk upward.
			slog.Error("superseding decision memory failed", "resource_id", resourceID, "error", err)
		}
	}

	r.mu.Lock()
	f.ChangeRequest.State = scm.ChangeRequestMerged
	f.Status = StatusApproved
	f.UpdatedAt = r.now().UTC()
	r.mu.Unlock()
	decisionsTotal.WithLabelValues("approve").Inc()
	slog.Info("finding approved", "resource_id", resourceID, "number", f.ChangeRequest.Number)
	return cloneFinding(f), nil
}

// Reject closes the change request, writes exactly one decision-memory
// record, and marks the finding rejected. Requires pr_ready.
func (r *Registry) Reject(ctx context.Context, resourceID, reason, rejectedBy string) (Finding, error) {
	lock := r.keyLock(resourceID)
	lock.Lock()
	defer lock.Unlock()

	f, err := r.getLocked(resourceID)
	if err != nil {
		return Finding{}, err
	}
	r.reconcileLocked(ctx, f)
	if f.Status != StatusPRReady || f.ChangeRequest == nil {
		return Finding{}, fmt.Errorf("%w: reject requires pr_ready, finding is %s", ErrInvalidTransition, f.Status)
	}

	if err := r.host.CloseChangeRequest(ctx, f.ChangeRequest.Number); err != nil {
		return Finding{}, err
	}
	if r.graph != nil {
		rec := graph.DecisionMemory{
			ResourceID: resourceID,
			Action:     f.Action(),
			FromSpec:   f.CurrentSpec,
			ToSpec:     f.RecommendedSpec,
			RejectedBy: rejectedBy,
			Reason:     reason,
			RejectedAt: r.now().UTC(),
			Status:     graph.DecisionRejected,
		}
		if err := r.graph.WriteDecisionMemory(ctx, rec); err != nil {
			return Finding{}, err
		}
	}

	r.mu.Lock()
	f.ChangeRequest.State = scm.ChangeRequestClosed
	f.Status = StatusRejected
	f.UpdatedAt = r.now().UTC()
	r.mu.Unlock()
	decisionsTotal.WithLabelValues("reject").Inc()
	slog.Info("finding rejected", "resource_id", resourceID, "rejected_by", rejectedBy)
	return cloneFinding(f), nil
}

// ====================================================================
// Pipeline progress
// ====================================================================

// BeginRun registers a new pipeline run for the resource, starting at
// seeding. If a non-done run already exists it is returned unchanged with
// started=false, which is the single-flight guarantee: two concurrent starts
// yield one run.
func (r *Registry) BeginRun(resourceID string) (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.progress[resourceID]; ok && !p.Done {
		return cloneProgress(p), false
	}
	now := r.now().UTC()
	p := &Progress{
		ResourceID: resourceID,
		Step:       StepSeeding,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	r.progress[resourceID] = p
	return cloneProgress(p), true
}

// AdvanceRun moves the run to the next work step. Out-of-order transitions
// are rejected rather than applied.
func (r *Registry) AdvanceRun(resourceID string, step Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.progress[resourceID]
	if !ok {
		return fmt.Errorf("%w: no pipeline run for %s", ErrNotFound, resourceID)
	}
	if !validStep(p.Step, step) {
		return fmt.Errorf("%w: pipeline step %s -> %s for %s", ErrInvalidTransition, p.Step, step, resourceID)
	}
	p.Step = step
	p.UpdatedAt = r.now().UTC()
	slog.Debug("pipeline step", "resource_id", resourceID, "step", step)
	return nil
}

// FailRun ends the run in error with a human-readable cause.
func (r *Registry) FailRun(resourceID, cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.progress[resourceID]
	if !ok {
		return
	}
	p.Step = StepError
	p.Error = cause
	p.Done = true
	p.UpdatedAt = r.now().UTC()
	slog.Warn("pipeline run failed", "resource_id", resourceID, "cause", cause)
}

// FinishRun ends the run successfully and records the opened change request.
func (r *Registry) FinishRun(resourceID string, cr *scm.ChangeRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.progress[resourceID]
	if !ok {
		return
	}
	p.Step = StepDone
	p.Done = true
	p.ChangeRequest = cr
	p.UpdatedAt = r.now().UTC()
}

// GetRun returns the current progress snapshot. Reading a completed run
// marks it observed, which makes it eligible for janitor collection.
func (r *Registry) GetRun(resourceID string) (Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.progress[resourceID]
	if !ok {
		return Progress{}, false
	}
	if p.Done {
		p.observed = true
	}
	return cloneProgress(p), true
}

// SweepRuns drops completed, observed progress entries older than maxAge and
// returns how many were collected.
func (r *Registry) SweepRuns(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-maxAge)
	collected := 0
	for id, p := range r.progress {
		if p.Done && p.observed && p.UpdatedAt.Before(cutoff) {
			delete(r.progress, id)
			collected++
		}
	}
	return collected
}
