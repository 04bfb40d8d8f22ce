// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

// WasteHunterConfig is the file-backed configuration for the wastehunter
// CLI and server. Secrets never live in this file; the loader pulls them
// from the environment.
type WasteHunterConfig struct {
	// Server: HTTP surface of the orchestrator
	Server ServerConfig `yaml:"server"`

	// Graph: which dependency-graph backend to use
	Graph GraphConfig `yaml:"graph"`

	// Scanner: where idle-resource telemetry comes from
	Scanner ScannerConfig `yaml:"scanner"`

	// SCM: the repository change requests are opened against
	SCM SCMConfig `yaml:"scm"`

	// Rewriter: how infrastructure files get rewritten
	Rewriter RewriterConfig `yaml:"rewriter"`

	// Logging: level and optional file output
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" validate:"gte=0,lte=65535"`
	GinMode        string   `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	OTelEndpoint   string   `yaml:"otel_endpoint"`
}

type GraphConfig struct {
	// Backend can be "badger" (embedded) or "neo4j" (server).
	Backend string `yaml:"backend" validate:"oneof=badger neo4j"`

	// BadgerPath is the data directory for the embedded backend.
	BadgerPath string `yaml:"badger_path"`

	// Neo4jURI and Neo4jUser configure the server backend. The password
	// comes from NEO4J_PASSWORD.
	Neo4jURI  string `yaml:"neo4j_uri" validate:"required_if=Backend neo4j"`
	Neo4jUser string `yaml:"neo4j_user"`
}

type ScannerConfig struct {
	// Backend can be "static" (fixture data) or "datadog".
	Backend string `yaml:"backend" validate:"oneof=static datadog"`

	// Site is the Datadog site domain, e.g. "datadoghq.eu".
	Site string `yaml:"site"`

	// TagFilter scopes the metric queries, e.g. "managed_by:wastehunter".
	TagFilter string `yaml:"tag_filter"`

	// Region is stamped onto scan candidates.
	Region string `yaml:"region"`

	// CPUThresholdPct flags instances idling below this average CPU.
	CPUThresholdPct float64 `yaml:"cpu_threshold_pct" validate:"gte=0,lte=100"`

	// LookbackMinutes is the metric window to average over.
	LookbackMinutes int `yaml:"lookback_minutes" validate:"gte=0"`

	// InstanceTypes maps host ids to instance types for the datadog
	// backend, which cannot learn them from the metric series.
	InstanceTypes map[string]string `yaml:"instance_types"`

	// InstanceNames maps host ids to display names.
	InstanceNames map[string]string `yaml:"instance_names"`
}

type SCMConfig struct {
	// Owner and Repo identify the GitHub repository. When Owner is empty
	// the server runs against an in-memory host (dry-run mode). The token
	// comes from GITHUB_TOKEN.
	Owner      string `yaml:"owner"`
	Repo       string `yaml:"repo" validate:"required_with=Owner"`
	BaseBranch string `yaml:"base_branch"`
	BaseURL    string `yaml:"base_url"`
}

type RewriterConfig struct {
	// Backend can be "local" (deterministic regex rewrites) or "openai".
	// The API key comes from OPENAI_API_KEY.
	Backend string `yaml:"backend" validate:"oneof=local openai"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

// Secrets carries credentials the loader reads from the environment. They
// are deliberately not part of the YAML schema.
type Secrets struct {
	GitHubToken   string
	DatadogAPIKey string
	DatadogAppKey string
	OpenAIAPIKey  string
	Neo4jPassword string
}

func DefaultConfig() WasteHunterConfig {
	return WasteHunterConfig{
		Server: ServerConfig{
			Port:    8780,
			GinMode: "release",
		},
		Graph: GraphConfig{
			Backend:    "badger",
			BadgerPath: "~/.wastehunter/graph",
		},
		Scanner: ScannerConfig{
			Backend:         "static",
			TagFilter:       "managed_by:wastehunter",
			Region:          "us-west-2",
			CPUThresholdPct: 10.0,
			LookbackMinutes: 60,
		},
		SCM: SCMConfig{
			BaseBranch: "main",
		},
		Rewriter: RewriterConfig{
			Backend: "local",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
