// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// database queries or subprocess calls. Graph traversal depth is the notable
// case: Cypher does not accept a parameter as a variable-length path bound
// (`-[r*1..$n]-` is a syntax error), so the depth must be embedded into the
// query text. Everything embedded that way goes through this package first.
package validation

import (
	"fmt"
	"regexp"
)

const (
	// MinHops is the smallest traversal depth a neighborhood query accepts.
	MinHops = 1

	// MaxHops caps traversal depth. Beyond 5 hops the neighborhood of a
	// typical production topology degenerates into "everything", and the
	// variable-length match cost grows combinatorially.
	MaxHops = 5
)

// resourceIDPattern matches valid resource identifiers.
// Allows: letters, digits, dots, underscores, hyphens, colons (ARN-ish ids).
// Max length: 128 characters.
var resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// ClampHops clamps a requested traversal depth into [MinHops, MaxHops].
//
// The returned value is safe to embed as an integer literal in query text.
// Callers must use this (never the raw request value) when constructing a
// variable-length path match.
func ClampHops(hops int) int {
	if hops < MinHops {
		return MinHops
	}
	if hops > MaxHops {
		return MaxHops
	}
	return hops
}

// ValidateResourceID validates a resource identifier before it is used as a
// query parameter or a branch-name component.
//
// Valid identifiers:
//   - 1-128 characters
//   - letters, digits
//   - dots, underscores, colons, hyphens after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateResourceID(id); err != nil {
//	    return nil, fmt.Errorf("invalid resource id: %w", err)
//	}
func ValidateResourceID(id string) error {
	if id == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	if !resourceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid resource id format: %q (must be 1-128 alphanumeric chars, dots, underscores, colons, or hyphens)", id)
	}
	return nil
}
