// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rewrite turns current IaC file content into downsized content.
//
// The gateway is intentionally narrow: one call, full file in, full file
// out. The model-backed client is the only component in the system allowed
// to invoke a generative rewrite; everything else treats the result as
// opaque text.
package rewrite

import (
	"context"
	"errors"
	"time"
)

// ErrRewriteFailed wraps gateway timeouts and upstream errors. The pipeline
// treats it as a step failure, retryable from the start of the run.
var ErrRewriteFailed = errors.New("rewrite failed")

// FileKind tells the rewriter what dialect the content is.
type FileKind string

const (
	KindTerraform  FileKind = "terraform"
	KindKubernetes FileKind = "kubernetes"
)

// Request carries one file rewrite.
type Request struct {
	// Content is the complete current file content.
	Content string

	// Kind selects the prompt and the fallback strategy.
	Kind FileKind

	// FromSpec and ToSpec describe the sizing change, e.g. "m5.4xlarge"
	// to "m5.xlarge".
	FromSpec string
	ToSpec   string

	// ResourceName is the human-readable name used in generated comments.
	ResourceName string
}

// Client is the rewrite gateway contract.
//
// Implementations must return syntactically complete file content, never a
// diff, and must bound their own latency (DefaultTimeout unless configured
// otherwise).
type Client interface {
	Rewrite(ctx context.Context, req Request) (string, error)
}

// DefaultTimeout bounds a single gateway call, retries included.
const DefaultTimeout = 60 * time.Second
