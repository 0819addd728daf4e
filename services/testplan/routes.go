// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package testplan

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the planning endpoints with the router group.
//
// Description:
//
//	Sets up all /testplan/* routes.
//
// Inputs:
//
//	rg - The router group to register routes with (e.g., /v1)
//	handlers - The handlers instance
//
// Core Endpoints:
//
//	POST   /v1/testplan/analyze                  - Analyze a project's tests
//	POST   /v1/testplan/batches                  - Create a batch plan
//	GET    /v1/testplan/plans                    - List saved plans
//	GET    /v1/testplan/plans/:id                - Load a saved plan
//	GET    /v1/testplan/plans/latest/:project    - Load a project's newest plan
//	DELETE /v1/testplan/cache/:project           - Drop a cached analysis
//	GET    /v1/testplan/health                   - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	tp := rg.Group("/testplan")
	{
		tp.POST("/analyze", handlers.HandleAnalyze)
		tp.POST("/batches", handlers.HandleCreateBatches)

		// Plan history (static segment registered before the :id wildcard)
		tp.GET("/plans", handlers.HandleListPlans)
		tp.GET("/plans/latest/:project", handlers.HandleLatestPlan)
		tp.GET("/plans/:id", handlers.HandleGetPlan)

		tp.DELETE("/cache/:project", handlers.HandleInvalidateCache)
		tp.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter returns a gin engine with tracing middleware, /metrics and the
// planning API under /v1.
//
// Inputs:
//
//	svc - The service to serve
//	metrics - Handler for /metrics. Nil uses the default Prometheus registry.
func NewRouter(svc *Service, metrics http.Handler) *gin.Engine {
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-testplan"))
	router.GET("/metrics", gin.WrapH(metrics))

	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router
}
