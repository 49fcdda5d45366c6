// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all bandit routes with the router.
//
// Description:
//
//	Registers all /v1/bandit/* endpoints with the given Gin router
//	group. The group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/bandit/experiments - Create an experiment
//	GET  /v1/bandit/experiments - List experiments
//	GET  /v1/bandit/experiments/:id - Get one experiment
//	POST /v1/bandit/experiments/:id/evaluate - Run the stopping rule
//	GET  /v1/bandit/experiments/:id/p_best - Probability-of-optimality vector
//	GET  /v1/bandit/experiments/:id/snapshot - Posterior snapshot
//	POST /v1/bandit/select - Choose an arm
//	POST /v1/bandit/reward - Report an outcome
//	GET  /v1/bandit/health - Health check
//	GET  /v1/bandit/ready - Readiness check
//
// Example:
//
//	svc := bandit.NewService(st, bandit.DefaultServiceConfig())
//	handlers := bandit.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	bandit.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	b := rg.Group("/bandit")
	{
		// Experiment lifecycle
		b.POST("/experiments", handlers.HandleCreateExperiment)
		b.GET("/experiments", handlers.HandleListExperiments)
		b.GET("/experiments/:id", handlers.HandleGetExperiment)
		b.POST("/experiments/:id/evaluate", handlers.HandleEvaluate)
		b.GET("/experiments/:id/p_best", handlers.HandlePBest)
		b.GET("/experiments/:id/snapshot", handlers.HandleSnapshot)

		// Decision path
		b.POST("/select", handlers.HandleSelect)
		b.POST("/reward", handlers.HandleReward)

		// Health checks
		b.GET("/health", handlers.HandleHealth)
		b.GET("/ready", handlers.HandleReady)
	}
}
