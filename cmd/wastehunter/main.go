// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command wastehunter runs the cloud waste hunter: scan for idle resources,
// serve the orchestrator API, and seed the dependency graph.
//
// # Environment Variables
//
//   - GITHUB_TOKEN: GitHub token for opening change requests (optional;
//     without it the server runs against an in-memory dry-run host)
//   - DATADOG_API_KEY / DATADOG_APP_KEY: required for the datadog scanner
//   - OPENAI_API_KEY: required for the openai rewriter
//   - NEO4J_PASSWORD: required for the neo4j graph backend
//
// # Usage
//
//	# Serve the API
//	wastehunter serve
//
//	# One-off scan, printed to stdout
//	wastehunter scan
//
//	# Seed the dependency graph with a topology file
//	wastehunter seed topology.yaml
package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/wastehunter/cmd/wastehunter/config"
	"github.com/AleutianAI/wastehunter/pkg/logging"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "wastehunter",
		Short: "Hunt idle cloud resources and turn them into reviewable downsize PRs",
		Long: `WasteHunter scans telemetry for idle compute, sizes the savings,
assesses the blast radius of a downsize through the dependency graph,
and opens a change request a human can approve or reject.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE:  runServe,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and print the findings",
		RunE:  runScan,
	}

	seedCmd = &cobra.Command{
		Use:   "seed [topology.yaml]",
		Short: "Seed the dependency graph",
		Long: `Loads a topology into the graph store. With a file argument the
topology is read from YAML; without one a small demo topology is seeded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSeed,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the config file (default ~/.wastehunter/wastehunter.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configPath); err != nil {
			return err
		}
		logger := logging.New(logging.Config{
			Level:   logging.ParseLevel(config.Global.Logging.Level),
			LogDir:  config.Global.Logging.LogDir,
			Service: "wastehunter",
			JSON:    config.Global.Logging.JSON,
		})
		slog.SetDefault(logger.Logger)
		return nil
	}

	rootCmd.AddCommand(serveCmd, scanCmd, seedCmd)
}
