// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/wastehunter/services/graph"
	"github.com/AleutianAI/wastehunter/services/orchestrator/handlers"
	"github.com/AleutianAI/wastehunter/services/pipeline"
	"github.com/AleutianAI/wastehunter/services/registry"
	"github.com/AleutianAI/wastehunter/services/scanner"
)

// Deps carries everything the routes need.
type Deps struct {
	Registry   *registry.Registry
	Pipeline   *pipeline.Pipeline
	Scanner    scanner.Scanner
	Thresholds scanner.Thresholds
	Graph      graph.Store
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Graph))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	findings := router.Group("/findings")
	{
		findings.POST("/scan", handlers.ScanFindings(deps.Scanner, deps.Thresholds, deps.Registry))
		findings.GET("", handlers.ListFindings(deps.Registry))
		findings.GET("/:resource_id", handlers.GetFinding(deps.Registry))
		findings.POST("/:resource_id/pipeline", handlers.StartPipeline(deps.Pipeline, deps.Registry))
		findings.GET("/:resource_id/pipeline", handlers.GetPipelineProgress(deps.Registry))
		findings.POST("/:resource_id/approve", handlers.ApproveFinding(deps.Registry))
		findings.POST("/:resource_id/reject", handlers.RejectFinding(deps.Registry))
	}
}
