// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/wastehunter/pkg/validation"
	"github.com/AleutianAI/wastehunter/services/orchestrator/datatypes"
	"github.com/AleutianAI/wastehunter/services/pipeline"
	"github.com/AleutianAI/wastehunter/services/registry"
)

// StartPipeline launches the remediation pipeline for a finding. The call
// returns immediately with the progress snapshot; when a run is already in
// flight the existing progress comes back instead of a second run.
func StartPipeline(pipe *pipeline.Pipeline, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("resource_id")
		if err := validation.ValidateResourceID(resourceID); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: err.Error(), Code: "invalid_resource_id"})
			return
		}
		slog.Info("Received request to start remediation pipeline", "resource_id", resourceID)
		prog, err := pipe.Start(c.Request.Context(), resourceID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, prog)
	}
}

// GetPipelineProgress polls the progress of a pipeline run.
func GetPipelineProgress(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("resource_id")
		prog, ok := reg.GetRun(resourceID)
		if !ok {
			respondError(c, fmt.Errorf("%w: no pipeline run for %s", registry.ErrNotFound, resourceID))
			return
		}
		c.JSON(http.StatusOK, prog)
	}
}
