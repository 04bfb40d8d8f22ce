// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline drives the asynchronous remediation sequence for one
// finding: seed baseline IaC files, read them, rewrite them toward the
// recommended spec, commit to a per-resource branch, and open a change
// request. The triggering call returns immediately; observers poll the
// registry's progress entry.
package pipeline

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/rewrite"
	"github.com/AleutianAI/wastehunter/services/scm"
)

const (
	terraformPath  = "infra/terraform/main.tf"
	kubernetesPath = "infra/k8s/deployment.yaml"

	// DefaultRunTimeout bounds one full pipeline run including the rewrite
	// calls and all host round trips.
	DefaultRunTimeout = 5 * time.Minute
)

//go:embed templates/main.tf
var terraformTemplate string

//go:embed templates/deployment.yaml
var kubernetesTemplate string

// BranchName returns the work branch for a resource. The name is a pure
// function of the resource id so retried runs reuse the same branch.
func BranchName(resourceID string) string {
	return "waste-hunter/downsize-" + resourceID
}

// Config wires the pipeline's collaborators.
type Config struct {
	Registry *registry.Registry
	Assessor *blast.Assessor
	Host     scm.Host
	Rewriter rewrite.Client

	// BaseBranch is where baseline files are seeded and read from. Empty
	// means "main".
	BaseBranch string

	// RunTimeout bounds one background run. Zero means DefaultRunTimeout.
	RunTimeout time.Duration
}

// Pipeline starts and runs remediation tasks. Single-flight per resource is
// enforced by the registry's progress table, not here.
type Pipeline struct {
	registry *registry.Registry
	assessor *blast.Assessor
	host     scm.Host
	rewriter rewrite.Client
	base     string
	timeout  time.Duration
}

func New(cfg Config) *Pipeline {
	base := cfg.BaseBranch
	if base == "" {
		base = "main"
	}
	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Pipeline{
		registry: cfg.Registry,
		assessor: cfg.Assessor,
		host:     cfg.Host,
		rewriter: cfg.Rewriter,
		base:     base,
		timeout:  timeout,
	}
}

// Start launches a background run for the finding and returns the initial
// progress snapshot. If a run is already in flight the existing progress is
// returned instead and no second task starts. Findings past pr_ready refuse
// to start with ErrInvalidTransition.
func (p *Pipeline) Start(ctx context.Context, resourceID string) (registry.Progress, error) {
	f, err := p.registry.Get(ctx, resourceID)
	if err != nil {
		return registry.Progress{}, err
	}
	if err := p.registry.MarkAnalyzing(resourceID); err != nil {
		return registry.Progress{}, err
	}
	prog, started := p.registry.BeginRun(resourceID)
	if !started {
		slog.Debug("pipeline already running", "resource_id", resourceID)
		return prog, nil
	}
	runsStarted.Inc()
	slog.Info("pipeline run starting", "resource_id", resourceID,
		"change", f.CurrentSpec+" -> "+f.RecommendedSpec)

	go func() {
		// The run outlives the HTTP request that triggered it.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		p.run(runCtx, f)
	}()
	return prog, nil
}

// run executes the full step sequence. Every failure path lands in FailRun,
// which leaves the finding's lifecycle status untouched so the run can be
// retried from the top.
func (p *Pipeline) run(ctx context.Context, f registry.Finding) {
	id := f.ResourceID
	start := time.Now()

	assessment, err := p.assessor.Assess(ctx, id)
	if err != nil {
		p.fail(id, fmt.Sprintf("blast radius assessment failed: %v", err))
		return
	}
	if err := p.registry.SetAssessment(id, *assessment); err != nil {
		p.fail(id, fmt.Sprintf("recording assessment: %v", err))
		return
	}

	// seeding
	if err := p.seedBaseFiles(ctx); err != nil {
		p.fail(id, fmt.Sprintf("seeding base files: %v", err))
		return
	}

	// reading
	if err := p.registry.AdvanceRun(id, registry.StepReading); err != nil {
		p.fail(id, err.Error())
		return
	}
	currentTF, err := p.host.ReadFile(ctx, p.base, terraformPath)
	if err != nil {
		p.fail(id, fmt.Sprintf("reading %s: %v", terraformPath, err))
		return
	}
	currentK8s, err := p.host.ReadFile(ctx, p.base, kubernetesPath)
	if err != nil {
		p.fail(id, fmt.Sprintf("reading %s: %v", kubernetesPath, err))
		return
	}

	// rewriting
	if err := p.registry.AdvanceRun(id, registry.StepRewriting); err != nil {
		p.fail(id, err.Error())
		return
	}
	newTF, err := p.rewriter.Rewrite(ctx, rewrite.Request{
		Content:      currentTF,
		Kind:         rewrite.KindTerraform,
		FromSpec:     f.CurrentSpec,
		ToSpec:       f.RecommendedSpec,
		ResourceName: f.Name,
	})
	if err != nil {
		p.fail(id, fmt.Sprintf("rewriting %s: %v", terraformPath, err))
		return
	}
	newK8s, err := p.rewriter.Rewrite(ctx, rewrite.Request{
		Content:      currentK8s,
		Kind:         rewrite.KindKubernetes,
		FromSpec:     f.CurrentSpec,
		ToSpec:       f.RecommendedSpec,
		ResourceName: f.Name,
	})
	if err != nil {
		p.fail(id, fmt.Sprintf("rewriting %s: %v", kubernetesPath, err))
		return
	}

	// committing
	if err := p.registry.AdvanceRun(id, registry.StepCommitting); err != nil {
		p.fail(id, err.Error())
		return
	}
	branch := BranchName(id)
	if err := p.host.EnsureBranch(ctx, branch); err != nil {
		p.fail(id, fmt.Sprintf("ensuring branch %s: %v", branch, err))
		return
	}
	if err := p.host.WriteFile(ctx, branch, terraformPath, newTF,
		fmt.Sprintf("chore(finops): downsize %s %s->%s", f.Name, f.CurrentSpec, f.RecommendedSpec)); err != nil {
		p.fail(id, fmt.Sprintf("committing %s: %v", terraformPath, err))
		return
	}
	if err := p.host.WriteFile(ctx, branch, kubernetesPath, newK8s,
		"chore(finops): right-size k8s resource requests"); err != nil {
		p.fail(id, fmt.Sprintf("committing %s: %v", kubernetesPath, err))
		return
	}

	draft := assessment.Risk == blast.RiskCritical
	cr, err := p.host.OpenChangeRequest(ctx, scm.NewChangeRequest{
		Branch: branch,
		Title:  changeRequestTitle(f),
		Body:   changeRequestBody(f, *assessment, draft),
		Draft:  draft,
	})
	if err != nil {
		p.fail(id, fmt.Sprintf("opening change request: %v", err))
		return
	}

	if err := p.registry.CompletePipeline(id, cr); err != nil {
		p.fail(id, fmt.Sprintf("finalizing finding: %v", err))
		return
	}
	p.registry.FinishRun(id, cr)
	runsSucceeded.Inc()
	runDuration.Observe(time.Since(start).Seconds())
	slog.Info("pipeline run complete", "resource_id", id,
		"number", cr.Number, "draft", cr.Draft, "duration", time.Since(start))
}

func (p *Pipeline) fail(resourceID, cause string) {
	runsFailed.Inc()
	p.registry.FailRun(resourceID, cause)
}

// seedBaseFiles puts the baseline IaC files on the base branch when they are
// missing. Present files are left alone, which keeps the step idempotent.
func (p *Pipeline) seedBaseFiles(ctx context.Context) error {
	seeds := []struct {
		path     string
		template string
	}{
		{terraformPath, terraformTemplate},
		{kubernetesPath, kubernetesTemplate},
	}
	for _, s := range seeds {
		_, err := p.host.ReadFile(ctx, p.base, s.path)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return err
		}
		slog.Info("seeding baseline file", "path", s.path, "branch", p.base)
		if err := p.host.WriteFile(ctx, p.base, s.path, s.template,
			fmt.Sprintf("chore: seed baseline infra file %s", s.path)); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, scm.ErrNotFound)
}

func changeRequestTitle(f registry.Finding) string {
	return fmt.Sprintf("[WasteHunter] Downsize %s: %s->%s ($%s/mo savings)",
		f.Name, f.CurrentSpec, f.RecommendedSpec, f.MonthlySavingsUSD.StringFixed(0))
}

func changeRequestBody(f registry.Finding, a blast.Assessment, draft bool) string {
	var b strings.Builder
	if draft {
		b.WriteString("> **DRAFT** - Blast radius is CRITICAL. Do NOT merge without owner review and a load test.\n\n")
	}
	b.WriteString("## WasteHunter - Automated Right-Sizing\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| **Instance** | `%s` (`%s`) |\n", f.Name, f.ResourceID)
	fmt.Fprintf(&b, "| **Change** | `%s` -> `%s` |\n", f.CurrentSpec, f.RecommendedSpec)
	fmt.Fprintf(&b, "| **Monthly Savings** | $%s |\n", f.MonthlySavingsUSD.StringFixed(2))
	fmt.Fprintf(&b, "| **Annual Savings** | $%s |\n", f.AnnualSavingsUSD.StringFixed(2))
	fmt.Fprintf(&b, "| **Blast Risk** | **%s** |\n", a.Risk)

	b.WriteString("\n### Files Changed\n")
	fmt.Fprintf(&b, "- `%s` - `instance_type` updated\n", terraformPath)
	fmt.Fprintf(&b, "- `%s` - `resources.requests` and `resources.limits` right-sized\n", kubernetesPath)

	b.WriteString("\n### Blast Radius Assessment\n")
	if len(a.Reasons) == 0 {
		b.WriteString("- no dependent systems found within the assessed neighborhood\n")
	}
	for _, reason := range a.Reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}

	if len(f.Evidence) > 0 {
		b.WriteString("\n### Evidence of Idle Behaviour\n")
		for _, e := range f.Evidence {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
