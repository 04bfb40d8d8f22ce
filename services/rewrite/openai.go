// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// rewriteTemperature keeps the transform deterministic-leaning; the
	// output must be a drop-in file, not prose.
	rewriteTemperature = 0.05

	defaultModel = "gpt-4o-mini"

	terraformSystemPrompt = "You are a Terraform expert. Your task is to rewrite a Terraform file " +
		"to downsize a compute instance. Return ONLY the complete, valid Terraform HCL content - " +
		"no explanation, no markdown fences, no commentary. The output must be a drop-in " +
		"replacement for the original file."

	kubernetesSystemPrompt = "You are a Kubernetes expert. Your task is to rewrite a Deployment YAML " +
		"to right-size resource requests and limits based on observed usage. Return ONLY the " +
		"complete, valid YAML content - no explanation, no markdown fences, no commentary."
)

// OpenAIConfig configures the model-backed rewriter.
type OpenAIConfig struct {
	APIKey string

	// BaseURL points the client at any OpenAI-compatible endpoint.
	// Empty means api.openai.com.
	BaseURL string

	// Model is the chat model name. Empty means defaultModel.
	Model string

	// Timeout bounds one Rewrite call including retries. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries uint64
}

// OpenAIRewriter calls an OpenAI-compatible chat completion endpoint.
type OpenAIRewriter struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries uint64
}

var _ Client = (*OpenAIRewriter)(nil)

// NewOpenAIRewriter creates the model-backed rewriter.
func NewOpenAIRewriter(cfg OpenAIConfig) (*OpenAIRewriter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("rewrite: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
		slog.Warn("rewrite model not set, using default", "model", model)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 2
	}
	return &OpenAIRewriter{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		timeout:    timeout,
		maxRetries: retries,
	}, nil
}

// Rewrite sends the file and the target spec to the model and returns the
// complete rewritten content. Transient upstream errors are retried with
// exponential backoff inside the call's timeout; exhaustion surfaces as
// ErrRewriteFailed.
func (r *OpenAIRewriter) Rewrite(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	system, user := prompts(req)

	var content string
	operation := func() error {
		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       r.model,
			Temperature: rewriteTemperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		slog.Error("rewrite gateway call failed", "model", r.model, "kind", req.Kind, "error", err)
		return "", fmt.Errorf("%w: %v", ErrRewriteFailed, err)
	}

	content = stripFences(content)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: model returned empty content", ErrRewriteFailed)
	}
	slog.Debug("rewrite complete", "model", r.model, "kind", req.Kind, "bytes", len(content))
	return content, nil
}

func prompts(req Request) (system, user string) {
	switch req.Kind {
	case KindKubernetes:
		system = kubernetesSystemPrompt
		user = fmt.Sprintf(
			"Rewrite the following Kubernetes Deployment YAML to right-size resource requests "+
				"and limits for %q, which is being downsized from %s to %s. Scale requests and "+
				"limits down proportionally.\n\n--- ORIGINAL FILE ---\n%s\n--- END ---",
			req.ResourceName, req.FromSpec, req.ToSpec, req.Content)
	default:
		system = terraformSystemPrompt
		user = fmt.Sprintf(
			"Rewrite the following Terraform file to change the instance %q from "+
				"instance_type %q to %q.\n\nAdd a comment on the changed line: "+
				"# wastehunter: downsized from %s\n\n--- ORIGINAL FILE ---\n%s\n--- END ---",
			req.ResourceName, req.FromSpec, req.ToSpec, req.FromSpec, req.Content)
	}
	return system, user
}

// stripFences removes a markdown code fence if the model wrapped its output
// in one despite the instruction not to.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.Index(t, "\n"); i >= 0 {
		t = t[i+1:] // drop the language tag line
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t) + "\n"
}
