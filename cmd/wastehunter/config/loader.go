// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the wastehunter configuration file and the secrets
// that accompany it.
//
// Configuration lives at ~/.wastehunter/wastehunter.yaml and holds nothing
// sensitive. Credentials (GitHub token, Datadog keys, OpenAI key, Neo4j
// password) are read from the environment only, so the config file is safe
// to commit to a dotfiles repo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is the singleton configuration instance.
	Global WasteHunterConfig

	// Env holds the secrets read from the environment at load time.
	Env Secrets

	once     sync.Once
	validate = validator.New()
)

// Load ensures the config is loaded into the Global variable. An explicit
// path overrides the default location; pass "" for the default.
func Load(path string) error {
	var err error
	once.Do(func() {
		err = loadInternal(path)
	})
	return err
}

func loadInternal(path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".wastehunter", "wastehunter.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("First run detected, creating the config at %s\n", path)
			if err := createDefault(path); err != nil {
				return err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}

	// Unmarshal over the defaults so a partial file keeps sane values.
	Global = DefaultConfig()
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err = validate.Struct(&Global); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	Env = secretsFromEnv()
	return nil
}

func secretsFromEnv() Secrets {
	return Secrets{
		GitHubToken:   os.Getenv("GITHUB_TOKEN"),
		DatadogAPIKey: os.Getenv("DATADOG_API_KEY"),
		DatadogAppKey: os.Getenv("DATADOG_APP_KEY"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		Neo4jPassword: os.Getenv("NEO4J_PASSWORD"),
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
