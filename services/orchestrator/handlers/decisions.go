// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/wastehunter/services/orchestrator/datatypes"
	"github.com/AleutianAI/wastehunter/services/registry"
)

// ApproveFinding merges the change request for a pr_ready finding.
func ApproveFinding(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("resource_id")
		slog.Info("Received approval", "resource_id", resourceID)

		f, err := reg.Approve(c.Request.Context(), resourceID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.DecisionResponse{
			ResourceID:    f.ResourceID,
			Status:        f.Status,
			ChangeRequest: f.ChangeRequest,
		})
	}
}

// RejectFinding closes the change request and records the rejection in
// decision memory so later assessments see it.
func RejectFinding(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("resource_id")

		var body datatypes.RejectRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "reason is required", Code: "invalid_request"})
			return
		}
		if body.RejectedBy == "" {
			body.RejectedBy = "unknown"
		}
		slog.Info("Received rejection", "resource_id", resourceID, "rejected_by", body.RejectedBy)

		f, err := reg.Reject(c.Request.Context(), resourceID, body.Reason, body.RejectedBy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.DecisionResponse{
			ResourceID:    f.ResourceID,
			Status:        f.Status,
			ChangeRequest: f.ChangeRequest,
		})
	}
}
