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
	"regexp"
)

var (
	instanceTypeRe = regexp.MustCompile(`(instance_type\s*=\s*")([^"]*)(")`)

	// k8s resource quantities under requests:/limits: blocks.
	cpuQuantityRe    = regexp.MustCompile(`(cpu:\s*")([^"]*)(")`)
	memoryQuantityRe = regexp.MustCompile(`(memory:\s*")([^"]*)(")`)
)

// LocalRewriter is a deterministic regex-based fallback used when no model
// endpoint is configured. It handles the common shapes of the seeded
// infrastructure files and nothing more.
type LocalRewriter struct{}

var _ Client = (*LocalRewriter)(nil)

// NewLocalRewriter returns the fallback rewriter.
func NewLocalRewriter() *LocalRewriter { return &LocalRewriter{} }

func (l *LocalRewriter) Rewrite(_ context.Context, req Request) (string, error) {
	switch req.Kind {
	case KindKubernetes:
		return l.rewriteKubernetes(req)
	default:
		return l.rewriteTerraform(req)
	}
}

func (l *LocalRewriter) rewriteTerraform(req Request) (string, error) {
	if !instanceTypeRe.MatchString(req.Content) {
		return "", fmt.Errorf("%w: no instance_type attribute found", ErrRewriteFailed)
	}
	replaced := false
	out := instanceTypeRe.ReplaceAllStringFunc(req.Content, func(m string) string {
		sub := instanceTypeRe.FindStringSubmatch(m)
		if req.FromSpec != "" && sub[2] != req.FromSpec {
			return m
		}
		replaced = true
		return sub[1] + req.ToSpec + sub[3] + " # wastehunter: downsized from " + sub[2]
	})
	if !replaced {
		return "", fmt.Errorf("%w: instance_type %q not found", ErrRewriteFailed, req.FromSpec)
	}
	slog.Debug("local terraform rewrite", "resource", req.ResourceName,
		"from", req.FromSpec, "to", req.ToSpec)
	return out, nil
}

// rewriteKubernetes halves cpu and memory quantities. The fallback does not
// parse YAML; it only touches quoted quantities, which is what the seeded
// deployment uses.
func (l *LocalRewriter) rewriteKubernetes(req Request) (string, error) {
	if !cpuQuantityRe.MatchString(req.Content) && !memoryQuantityRe.MatchString(req.Content) {
		return "", fmt.Errorf("%w: no cpu or memory quantities found", ErrRewriteFailed)
	}
	out := cpuQuantityRe.ReplaceAllStringFunc(req.Content, func(m string) string {
		sub := cpuQuantityRe.FindStringSubmatch(m)
		return sub[1] + halveQuantity(sub[2]) + sub[3]
	})
	out = memoryQuantityRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := memoryQuantityRe.FindStringSubmatch(m)
		return sub[1] + halveQuantity(sub[2]) + sub[3]
	})
	slog.Debug("local kubernetes rewrite", "resource", req.ResourceName)
	return out, nil
}

// halveQuantity halves a Kubernetes quantity like "500m", "2", "1Gi" or
// "512Mi". Values it cannot parse are returned unchanged.
func halveQuantity(q string) string {
	i := len(q)
	for i > 0 && (q[i-1] < '0' || q[i-1] > '9') {
		i--
	}
	numPart, suffix := q[:i], q[i:]
	var n int
	if _, err := fmt.Sscanf(numPart, "%d", &n); err != nil || n <= 0 {
		return q
	}
	if n == 1 && suffix == "" {
		// whole cores halve into millicores
		return "500m"
	}
	if n%2 != 0 {
		n++ // round up before halving so we never hit zero
	}
	return fmt.Sprintf("%d%s", n/2, suffix)
}
