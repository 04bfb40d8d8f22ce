// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeHostBranching(t *testing.T) {
	ctx := context.Background()
	host := NewFakeHost()
	host.SeedFile("main", "infra/terraform/main.tf", "resource {}\n")

	require.NoError(t, host.EnsureBranch(ctx, "waste-hunter/downsize-api-1"))

	t.Run("branch inherits base files", func(t *testing.T) {
		content, err := host.ReadFile(ctx, "waste-hunter/downsize-api-1", "infra/terraform/main.tf")
		require.NoError(t, err)
		assert.Equal(t, "resource {}\n", content)
	})

	t.Run("ensure is idempotent", func(t *testing.T) {
		require.NoError(t, host.WriteFile(ctx, "waste-hunter/downsize-api-1",
			"infra/terraform/main.tf", "changed\n", "downsize api-1"))
		require.NoError(t, host.EnsureBranch(ctx, "waste-hunter/downsize-api-1"))

		content, err := host.ReadFile(ctx, "waste-hunter/downsize-api-1", "infra/terraform/main.tf")
		require.NoError(t, err)
		assert.Equal(t, "changed\n", content, "re-ensuring must not reset the branch")
	})

	t.Run("missing file is ErrNotFound", func(t *testing.T) {
		_, err := host.ReadFile(ctx, "main", "nope.tf")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestFakeHostChangeRequests(t *testing.T) {
	ctx := context.Background()
	host := NewFakeHost()
	require.NoError(t, host.EnsureBranch(ctx, "waste-hunter/downsize-db-1"))

	cr, err := host.OpenChangeRequest(ctx, NewChangeRequest{
		Branch: "waste-hunter/downsize-db-1",
		Title:  "Downsize db-1",
		Draft:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cr.Number)
	assert.True(t, cr.Draft)
	assert.Equal(t, ChangeRequestOpen, cr.State)

	t.Run("merge transitions to merged", func(t *testing.T) {
		require.NoError(t, host.MergeChangeRequest(ctx, cr.Number))
		got, err := host.GetChangeRequest(ctx, cr.Number)
		require.NoError(t, err)
		assert.Equal(t, ChangeRequestMerged, got.State)
	})

	t.Run("merging twice fails", func(t *testing.T) {
		err := host.MergeChangeRequest(ctx, cr.Number)
		assert.True(t, errors.Is(err, ErrCommitFailed))
	})

	t.Run("unknown number is ErrNotFound", func(t *testing.T) {
		_, err := host.GetChangeRequest(ctx, 99)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestFakeHostFailureInjection(t *testing.T) {
	ctx := context.Background()
	host := NewFakeHost()
	host.FailWrites = true

	err := host.EnsureBranch(ctx, "b")
	assert.True(t, errors.Is(err, ErrCommitFailed))

	_, err = host.OpenChangeRequest(ctx, NewChangeRequest{Branch: "main"})
	assert.True(t, errors.Is(err, ErrCommitFailed))
}
