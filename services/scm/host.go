// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scm abstracts the source-control host that holds the infrastructure
// repository. The pipeline only needs a handful of operations: ensure a work
// branch exists, read and write files on it, and manage the change request
// that proposes the downsize.
package scm

import (
	"context"
	"errors"
)

var (
	// ErrCommitFailed marks write-side host failures. Callers map it to an
	// upstream-gateway error, not an internal one.
	ErrCommitFailed = errors.New("scm commit failed")

	// ErrNotFound marks missing branches, files, or change requests.
	ErrNotFound = errors.New("scm object not found")
)

// ChangeRequestState is the host-side lifecycle of a change request.
type ChangeRequestState string

const (
	ChangeRequestOpen   ChangeRequestState = "open"
	ChangeRequestMerged ChangeRequestState = "merged"
	ChangeRequestClosed ChangeRequestState = "closed"
)

// ChangeRequest describes a proposed change on the host.
type ChangeRequest struct {
	// ID is the host's opaque identifier.
	ID string `json:"id"`

	// Number is the human-facing change request number.
	Number int `json:"number"`

	URL    string             `json:"url"`
	Branch string             `json:"branch"`
	Draft  bool               `json:"draft"`
	State  ChangeRequestState `json:"state"`
}

// NewChangeRequest carries everything needed to open a change request.
type NewChangeRequest struct {
	Branch string
	Title  string
	Body   string

	// Draft opens the change request as a draft so it cannot be merged
	// without explicit promotion.
	Draft bool
}

// Host is the write surface the pipeline uses against the infrastructure
// repository.
type Host interface {
	// EnsureBranch creates branch off the default branch head if it does
	// not already exist. Re-running against an existing branch is not an
	// error.
	EnsureBranch(ctx context.Context, branch string) error

	// ReadFile returns the content of path on branch.
	ReadFile(ctx context.Context, branch, path string) (string, error)

	// WriteFile creates or updates path on branch with content, committing
	// with message.
	WriteFile(ctx context.Context, branch, path, content, message string) error

	// OpenChangeRequest opens a change request from req.Branch into the
	// default branch.
	OpenChangeRequest(ctx context.Context, req NewChangeRequest) (*ChangeRequest, error)

	// GetChangeRequest fetches the current host-side state of a change
	// request by number.
	GetChangeRequest(ctx context.Context, number int) (*ChangeRequest, error)

	// MergeChangeRequest merges an open change request.
	MergeChangeRequest(ctx context.Context, number int) error

	// CloseChangeRequest closes an open change request without merging.
	CloseChangeRequest(ctx context.Context, number int) error
}
