// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/wastehunter/cmd/wastehunter/config"
	"github.com/AleutianAI/wastehunter/services/blast"
	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/orchestrator"
	"github.com/AleutianAI/wastehunter/services/pipeline"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/rewrite"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

// ====================================================================
// serve
// ====================================================================

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	host, err := buildHost()
	if err != nil {
		return err
	}
	scn, err := buildScanner()
	if err != nil {
		return err
	}
	rewriter, err := buildRewriter()
	if err != nil {
		return err
	}

	reg := registry.New(registry.Config{Host: host, Graph: store})
	pipe := pipeline.New(pipeline.Config{
		Registry:   reg,
		Assessor:   blast.NewAssessor(store),
		Host:       host,
		Rewriter:   rewriter,
		BaseBranch: config.Global.SCM.BaseBranch,
	})

	svc, err := orchestrator.New(orchestrator.Config{
		Port:           config.Global.Server.Port,
		OTelEndpoint:   config.Global.Server.OTelEndpoint,
		GinMode:        config.Global.Server.GinMode,
		AllowedOrigins: config.Global.Server.AllowedOrigins,
		ScanThresholds: thresholds(),
	}, orchestrator.Deps{
		Registry: reg,
		Pipeline: pipe,
		Scanner:  scn,
		Graph:    store,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return svc.Run()
}

// ====================================================================
// scan
// ====================================================================

func runScan(cmd *cobra.Command, args []string) error {
	scn, err := buildScanner()
	if err != nil {
		return err
	}
	candidates, err := scn.Scan(cmd.Context(), thresholds())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("No idle resources found.")
		return nil
	}
	fmt.Printf("Found %d idle resource(s):\n\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("  %-22s %-20s %s -> %s  ($%s/mo, %.0f%% savings)\n",
			c.ResourceID, c.Name, c.CurrentSpec, c.RecommendedSpec,
			c.MonthlySavingsUSD.StringFixed(2), c.SavingsPct)
		for _, e := range c.Evidence {
			fmt.Printf("      - %s\n", e)
		}
	}
	return nil
}

// ====================================================================
// seed
// ====================================================================

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	topo := demoTopology()
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read topology file: %w", err)
		}
		topo = graph.Topology{}
		if err := yaml.Unmarshal(data, &topo); err != nil {
			return fmt.Errorf("failed to parse topology file: %w", err)
		}
	}

	store, err := openGraph(ctx)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	if err := store.Seed(ctx, topo); err != nil {
		return fmt.Errorf("failed to seed the graph: %w", err)
	}
	fmt.Printf("Seeded %d node(s) and %d edge(s).\n", len(topo.Nodes), len(topo.Edges))
	return nil
}

// demoTopology is a small production-shaped neighborhood around the static
// scanner's fixture instances, enough to exercise blast assessments end to
// end without a real inventory.
func demoTopology() graph.Topology {
	return graph.Topology{
		Nodes: []graph.ResourceNode{
			{ID: "i-0a1b2c3d4e5f67890", Name: "prod-api-server-03", Kind: graph.KindCompute, Criticality: graph.CriticalityMedium},
			{ID: "i-029da6afe1826bbba", Name: "staging-worker-01", Kind: graph.KindCompute, Criticality: graph.CriticalityLow},
			{ID: "i-03e3a5ce0a14eaa82", Name: "analytics-batch-02", Kind: graph.KindCompute, Criticality: graph.CriticalityLow},
			{ID: "lb-prod-api", Name: "prod-api-alb", Kind: graph.KindLoadBalancer, Criticality: graph.CriticalityHigh},
			{ID: "db-orders-primary", Name: "orders-postgres", Kind: graph.KindDatabase, Criticality: graph.CriticalityHigh},
			{ID: "s3-analytics-lake", Name: "analytics-data-lake", Kind: graph.KindStorage, Criticality: graph.CriticalityMedium},
		},
		Edges: []graph.DependencyEdge{
			{From: "lb-prod-api", To: "i-0a1b2c3d4e5f67890", Kind: "routes-to"},
			{From: "i-0a1b2c3d4e5f67890", To: "db-orders-primary", Kind: "reads-from"},
			{From: "i-03e3a5ce0a14eaa82", To: "s3-analytics-lake", Kind: "reads-from"},
		},
	}
}

// ====================================================================
// Collaborator construction
// ====================================================================

func openGraph(ctx context.Context) (graph.Store, error) {
	cfg := config.Global.Graph
	switch cfg.Backend {
	case "neo4j":
		if config.Env.Neo4jPassword == "" {
			return nil, fmt.Errorf("NEO4J_PASSWORD is required for the neo4j graph backend")
		}
		return graph.OpenNeo4j(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: config.Env.Neo4jPassword,
		})
	default:
		return graph.OpenBadger(graph.BadgerConfig{
			Path:       expandHome(cfg.BadgerPath),
			SyncWrites: true,
		})
	}
}

// expandHome resolves a leading ~ in the badger data path.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func buildScanner() (scanner.Scanner, error) {
	cfg := config.Global.Scanner
	switch cfg.Backend {
	case "datadog":
		return scanner.NewDatadogScanner(scanner.DatadogConfig{
			APIKey:        config.Env.DatadogAPIKey,
			AppKey:        config.Env.DatadogAppKey,
			Site:          cfg.Site,
			TagFilter:     cfg.TagFilter,
			Region:        cfg.Region,
			InstanceTypes: cfg.InstanceTypes,
			InstanceNames: cfg.InstanceNames,
		})
	default:
		return scanner.NewStaticScanner(), nil
	}
}

func buildRewriter() (rewrite.Client, error) {
	cfg := config.Global.Rewriter
	switch cfg.Backend {
	case "openai":
		return rewrite.NewOpenAIRewriter(rewrite.OpenAIConfig{
			APIKey:  config.Env.OpenAIAPIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return rewrite.NewLocalRewriter(), nil
	}
}

func buildHost() (scm.Host, error) {
	cfg := config.Global.SCM
	if cfg.Owner == "" || config.Env.GitHubToken == "" {
		slog.Warn("No GitHub repository or token configured, running against an in-memory dry-run host")
		return scm.NewFakeHost(), nil
	}
	return scm.NewGitHubHost(scm.GitHubConfig{
		Token:      config.Env.GitHubToken,
		Owner:      cfg.Owner,
		Repo:       cfg.Repo,
		BaseBranch: cfg.BaseBranch,
		BaseURL:    cfg.BaseURL,
	})
}

func thresholds() scanner.Thresholds {
	t := scanner.DefaultThresholds()
	if config.Global.Scanner.CPUThresholdPct > 0 {
		t.CPUPct = config.Global.Scanner.CPUThresholdPct
	}
	if config.Global.Scanner.LookbackMinutes > 0 {
		t.Lookback = time.Duration(config.Global.Scanner.LookbackMinutes) * time.Minute
	}
	return t
}
