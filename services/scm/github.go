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
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/go-github/v66/github"
)

// GitHubConfig configures the GitHub-backed host.
type GitHubConfig struct {
	Token string
	Owner string
	Repo  string

	// BaseBranch is the branch change requests target. Empty means "main".
	BaseBranch string

	// BaseURL points the client at a GitHub Enterprise instance. Empty
	// means github.com.
	BaseURL string
}

// GitHubHost implements Host against the GitHub REST API.
type GitHubHost struct {
	client *github.Client
	owner  string
	repo   string
	base   string
}

var _ Host = (*GitHubHost)(nil)

// NewGitHubHost builds a GitHub-backed host.
func NewGitHubHost(cfg GitHubConfig) (*GitHubHost, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("scm: github token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("scm: github owner and repo are required")
	}
	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("scm: invalid enterprise url: %w", err)
		}
	}
	base := cfg.BaseBranch
	if base == "" {
		base = "main"
	}
	return &GitHubHost{client: client, owner: cfg.Owner, repo: cfg.Repo, base: base}, nil
}

// EnsureBranch creates branch off the base branch head. A 422 from the ref
// create means the branch already exists, which is fine: the pipeline retries
// runs and must be able to reuse its own branch.
func (h *GitHubHost) EnsureBranch(ctx context.Context, branch string) error {
	ref, _, err := h.client.Git.GetRef(ctx, h.owner, h.repo, "refs/heads/"+h.base)
	if err != nil {
		return fmt.Errorf("%w: resolving base branch %s: %v", ErrCommitFailed, h.base, err)
	}
	newRef := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: ref.Object.SHA},
	}
	_, resp, err := h.client.Git.CreateRef(ctx, h.owner, h.repo, newRef)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			slog.Debug("branch already exists", "branch", branch)
			return nil
		}
		return fmt.Errorf("%w: creating branch %s: %v", ErrCommitFailed, branch, err)
	}
	slog.Info("created branch", "branch", branch, "base", h.base)
	return nil
}

func (h *GitHubHost) ReadFile(ctx context.Context, branch, path string) (string, error) {
	file, _, resp, err := h.client.Repositories.GetContents(ctx, h.owner, h.repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s on %s", ErrNotFound, path, branch)
		}
		return "", fmt.Errorf("%w: reading %s: %v", ErrCommitFailed, path, err)
	}
	if file == nil {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("%w: decoding %s: %v", ErrCommitFailed, path, err)
	}
	return content, nil
}

// WriteFile creates or updates path on branch. The update path needs the
// current blob SHA; a 404 on the lookup means the file is new.
func (h *GitHubHost) WriteFile(ctx context.Context, branch, path, content, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}
	existing, _, resp, err := h.client.Repositories.GetContents(ctx, h.owner, h.repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		// new file
	case err != nil:
		return fmt.Errorf("%w: staging %s: %v", ErrCommitFailed, path, err)
	}
	if _, _, err := h.client.Repositories.UpdateFile(ctx, h.owner, h.repo, path, opts); err != nil {
		return fmt.Errorf("%w: committing %s: %v", ErrCommitFailed, path, err)
	}
	slog.Info("committed file", "path", path, "branch", branch)
	return nil
}

func (h *GitHubHost) OpenChangeRequest(ctx context.Context, req NewChangeRequest) (*ChangeRequest, error) {
	pr, _, err := h.client.PullRequests.Create(ctx, h.owner, h.repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Body),
		Head:  github.String(req.Branch),
		Base:  github.String(h.base),
		Draft: github.Bool(req.Draft),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening change request: %v", ErrCommitFailed, err)
	}
	cr := fromPullRequest(pr)
	slog.Info("opened change request", "number", cr.Number, "draft", cr.Draft, "url", cr.URL)
	return cr, nil
}

func (h *GitHubHost) GetChangeRequest(ctx context.Context, number int) (*ChangeRequest, error) {
	pr, resp, err := h.client.PullRequests.Get(ctx, h.owner, h.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: change request %d", ErrNotFound, number)
		}
		return nil, fmt.Errorf("%w: fetching change request %d: %v", ErrCommitFailed, number, err)
	}
	return fromPullRequest(pr), nil
}

func (h *GitHubHost) MergeChangeRequest(ctx context.Context, number int) error {
	_, _, err := h.client.PullRequests.Merge(ctx, h.owner, h.repo, number, "",
		&github.PullRequestOptions{MergeMethod: "squash"})
	if err != nil {
		return fmt.Errorf("%w: merging change request %d: %v", ErrCommitFailed, number, err)
	}
	slog.Info("merged change request", "number", number)
	return nil
}

func (h *GitHubHost) CloseChangeRequest(ctx context.Context, number int) error {
	_, _, err := h.client.PullRequests.Edit(ctx, h.owner, h.repo, number,
		&github.PullRequest{State: github.String("closed")})
	if err != nil {
		return fmt.Errorf("%w: closing change request %d: %v", ErrCommitFailed, number, err)
	}
	slog.Info("closed change request", "number", number)
	return nil
}

func fromPullRequest(pr *github.PullRequest) *ChangeRequest {
	state := ChangeRequestState(pr.GetState())
	if pr.GetMerged() {
		state = ChangeRequestMerged
	}
	branch := ""
	if pr.Head != nil {
		branch = pr.Head.GetRef()
	}
	return &ChangeRequest{
		ID:     strconv.FormatInt(pr.GetID(), 10),
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: branch,
		Draft:  pr.GetDraft(),
		State:  state,
	}
}
