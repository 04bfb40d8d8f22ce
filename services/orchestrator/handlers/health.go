// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/wastehunter/services/graph"
)

// HealthCheck reports liveness plus the reachability of the graph store.
// The service stays up without the graph, but assessments fail closed, so
// operators want to see that state here.
func HealthCheck(store graph.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		graphStatus := "ok"
		if store == nil {
			graphStatus = "unconfigured"
		} else if err := store.Ping(c.Request.Context()); err != nil {
			graphStatus = "unreachable"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"graph":  graphStatus,
		})
	}
}
