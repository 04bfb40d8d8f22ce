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

	"github.com/AleutianAI/wastehunter/pkg/validation"
	"github.com/AleutianAI/wastehunter/services/orchestrator/datatypes"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/scanner"
)

// ScanFindings triggers the telemetry scan and upserts the results.
func ScanFindings(scn scanner.Scanner, thresholds scanner.Thresholds, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to scan for idle resources")
		candidates, err := scn.Scan(c.Request.Context(), thresholds)
		if err != nil {
			respondError(c, err)
			return
		}
		created, updated := reg.UpsertFromScan(candidates)
		c.JSON(http.StatusOK, datatypes.ScanResponse{
			New:     created,
			Updated: updated,
			Total:   len(reg.List()),
		})
	}
}

// ListFindings returns all findings, largest savings first.
func ListFindings(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		findings := reg.List()
		c.JSON(http.StatusOK, datatypes.FindingsResponse{
			Findings: findings,
			Count:    len(findings),
		})
	}
}

// GetFinding returns one finding, reconciled against the host.
func GetFinding(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceID := c.Param("resource_id")
		if err := validation.ValidateResourceID(resourceID); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: err.Error(), Code: "invalid_resource_id"})
			return
		}
		f, err := reg.Get(c.Request.Context(), resourceID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, f)
	}
}
