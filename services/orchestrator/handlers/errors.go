// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/orchestrator/datatypes"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/rewrite"
	"github.com/AleutianAI/wastehunter/services/scanner"
	"github.com/AleutianAI/wastehunter/services/scm"
)

// respondError maps the error taxonomy onto HTTP statuses. Unrecognized
// errors surface as 500 without leaking internals.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	msg := err.Error()

	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, scm.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, graph.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "dependency_unavailable"
	case errors.Is(err, rewrite.ErrRewriteFailed):
		status, code = http.StatusBadGateway, "rewrite_failed"
	case errors.Is(err, scm.ErrCommitFailed):
		status, code = http.StatusBadGateway, "commit_failed"
	case errors.Is(err, scanner.ErrScanFailed):
		status, code = http.StatusBadGateway, "scan_failed"
	default:
		slog.Error("unhandled API error", "error", err)
		msg = "internal error"
	}
	c.JSON(status, datatypes.ErrorResponse{Error: msg, Code: code})
}
