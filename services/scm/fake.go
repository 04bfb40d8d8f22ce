// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scm

import (
	"context"
	"fmt"
	"sync"
)

// FakeHost is an in-memory Host for tests and local development. It models
// branches as file maps and change requests as numbered records.
type FakeHost struct {
	mu sync.Mutex

	branches map[string]map[string]string
	requests map[int]*ChangeRequest
	nextNum  int

	// FailWrites makes every write-side call return ErrCommitFailed. Tests
	// use it to exercise error paths.
	FailWrites bool

	// Commits records every WriteFile commit message in order.
	Commits []string
}

var _ Host = (*FakeHost)(nil)

// NewFakeHost returns a fake with an empty default branch.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		branches: map[string]map[string]string{"main": {}},
		requests: map[int]*ChangeRequest{},
		nextNum:  1,
	}
}

// SeedFile places content on a branch directly, bypassing failure injection.
func (f *FakeHost) SeedFile(branch, path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branches[branch] == nil {
		f.branches[branch] = map[string]string{}
	}
	f.branches[branch][path] = content
}

func (f *FakeHost) EnsureBranch(_ context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return fmt.Errorf("%w: injected failure", ErrCommitFailed)
	}
	if _, ok := f.branches[branch]; ok {
		return nil
	}
	files := map[string]string{}
	for path, content := range f.branches["main"] {
		files[path] = content
	}
	f.branches[branch] = files
	return nil
}

func (f *FakeHost) ReadFile(_ context.Context, branch, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.branches[branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	content, ok := files[path]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrNotFound, path, branch)
	}
	return content, nil
}

func (f *FakeHost) WriteFile(_ context.Context, branch, path, content, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return fmt.Errorf("%w: injected failure", ErrCommitFailed)
	}
	files, ok := f.branches[branch]
	if !ok {
		return fmt.Errorf("%w: branch %s", ErrNotFound, branch)
	}
	files[path] = content
	f.Commits = append(f.Commits, message)
	return nil
}

func (f *FakeHost) OpenChangeRequest(_ context.Context, req NewChangeRequest) (*ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return nil, fmt.Errorf("%w: injected failure", ErrCommitFailed)
	}
	if _, ok := f.branches[req.Branch]; !ok {
		return nil, fmt.Errorf("%w: branch %s", ErrNotFound, req.Branch)
	}
	num := f.nextNum
	f.nextNum++
	cr := &ChangeRequest{
		ID:     fmt.Sprintf("fake-%d", num),
		Number: num,
		URL:    fmt.Sprintf("https://example.invalid/pull/%d", num),
		Branch: req.Branch,
		Draft:  req.Draft,
		State:  ChangeRequestOpen,
	}
	f.requests[num] = cr
	return cloneRequest(cr), nil
}

func (f *FakeHost) GetChangeRequest(_ context.Context, number int) (*ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cr, ok := f.requests[number]
	if !ok {
		return nil, fmt.Errorf("%w: change request %d", ErrNotFound, number)
	}
	return cloneRequest(cr), nil
}

func (f *FakeHost) MergeChangeRequest(_ context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return fmt.Errorf("%w: injected failure", ErrCommitFailed)
	}
	cr, ok := f.requests[number]
	if !ok {
		return fmt.Errorf("%w: change request %d", ErrNotFound, number)
	}
	if cr.State != ChangeRequestOpen {
		return fmt.Errorf("%w: change request %d is %s", ErrCommitFailed, number, cr.State)
	}
	cr.State = ChangeRequestMerged
	return nil
}

func (f *FakeHost) CloseChangeRequest(_ context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return fmt.Errorf("%w: injected failure", ErrCommitFailed)
	}
	cr, ok := f.requests[number]
	if !ok {
		return fmt.Errorf("%w: change request %d", ErrNotFound, number)
	}
	if cr.State != ChangeRequestOpen {
		return fmt.Errorf("%w: change request %d is %s", ErrCommitFailed, number, cr.State)
	}
	cr.State = ChangeRequestClosed
	return nil
}

// SetState forces a change request's host-side state. Tests use it to model
// out-of-band merges and closures.
func (f *FakeHost) SetState(number int, state ChangeRequestState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cr, ok := f.requests[number]; ok {
		cr.State = state
	}
}

func cloneRequest(cr *ChangeRequest) *ChangeRequest {
	c := *cr
	return &c
}
