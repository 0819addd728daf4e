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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/analyzer"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/batch"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/graph"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
	"github.com/AleutianAI/AleutianTestPlan/services/testplan/testunit"
)

// requestIDHeader carries the request ID in and out.
const requestIDHeader = "X-Request-ID"

// Handlers serves the planning API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Project string `json:"project" binding:"required"`
}

// AnalyzeResponse is a project analysis with its dependency graph.
type AnalyzeResponse struct {
	*analyzer.ProjectAnalysis
	TotalTests int                      `json:"totalTests"`
	EdgeCount  int                      `json:"edgeCount"`
	Graph      *graph.SerializableGraph `json:"graph"`
}

// NewAnalyzeResponse builds the response for analysis.
func NewAnalyzeResponse(analysis *analyzer.ProjectAnalysis) AnalyzeResponse {
	return AnalyzeResponse{
		ProjectAnalysis: analysis,
		TotalTests:      len(analysis.Tests),
		EdgeCount:       analysis.Graph.EdgeCount(),
		Graph:           analysis.Graph.ToSerializable(),
	}
}

// OptionOverrides replaces individual batching options for one request.
// Unset fields keep the service defaults.
type OptionOverrides struct {
	MaxBatchSize       *int            `json:"maxBatchSize,omitempty"`
	MaxBatchDurationMs *int64          `json:"maxBatchDurationMs,omitempty"`
	BalanceStrategy    *batch.Strategy `json:"balanceStrategy,omitempty"`
	ResourceAware      *bool           `json:"resourceAware,omitempty"`
}

// Apply returns base with the set overrides applied.
func (o *OptionOverrides) Apply(base batch.Options) batch.Options {
	if o == nil {
		return base
	}
	if o.MaxBatchSize != nil {
		base.MaxBatchSize = *o.MaxBatchSize
	}
	if o.MaxBatchDurationMs != nil {
		base.MaxBatchDurationMs = *o.MaxBatchDurationMs
	}
	if o.BalanceStrategy != nil {
		base.BalanceStrategy = *o.BalanceStrategy
	}
	if o.ResourceAware != nil {
		base.ResourceAware = *o.ResourceAware
	}
	return base
}

// BatchRequest is the body of POST /batches.
type BatchRequest struct {
	Project string           `json:"project" binding:"required"`
	Phase   string           `json:"phase"`
	Options *OptionOverrides `json:"options"`
}

// BatchResponse wraps a new plan.
type BatchResponse struct {
	Plan     *batch.Plan           `json:"plan"`
	Saved    bool                  `json:"saved"`
	Metadata *storage.PlanMetadata `json:"metadata,omitempty"`
}

// PlanResponse wraps a stored plan.
type PlanResponse struct {
	Plan     *batch.Plan           `json:"plan"`
	Metadata *storage.PlanMetadata `json:"metadata"`
}

// ListPlansResponse lists stored plan metadata.
type ListPlansResponse struct {
	Plans []*storage.PlanMetadata `json:"plans"`
	Count int                     `json:"count"`
}

// InvalidateResponse reports a cache invalidation.
type InvalidateResponse struct {
	Project string `json:"project"`
	Dropped bool   `json:"dropped"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptimeSeconds"`
	Store         bool                `json:"store"`
	Cache         analyzer.CacheStats `json:"cache"`
}

// HandleAnalyze handles POST /v1/testplan/analyze.
//
// Response:
//
//	200 OK: AnalyzeResponse
//	400 Bad Request: Missing or invalid project
//	500 Internal Server Error: Analysis failed
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	analysis, err := h.svc.Analyze(c.Request.Context(), req.Project)
	if err != nil {
		h.writeAnalysisError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, NewAnalyzeResponse(analysis))
}

// HandleCreateBatches handles POST /v1/testplan/batches.
//
// Description:
//
//	Analyzes the project (through the cache) and packs it into batches.
//	Options in the request override the service defaults field by field.
//	With a plan store configured the plan is saved.
//
// Response:
//
//	200 OK: BatchResponse
//	400 Bad Request: Missing project, unknown phase or invalid options
//	500 Internal Server Error: Analysis failed
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCreateBatches(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCreateBatches")

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	phase, err := testunit.ParsePhase(req.Phase)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PHASE",
		})
		return
	}

	opts := req.Options.Apply(h.svc.DefaultOptions())
	plan, meta, err := h.svc.CreatePlan(c.Request.Context(), req.Project, phase, opts)
	if err != nil {
		if errors.Is(err, batch.ErrInvalidOptions) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_OPTIONS",
			})
			return
		}
		h.writeAnalysisError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, BatchResponse{
		Plan:     plan,
		Saved:    meta != nil,
		Metadata: meta,
	})
}

// HandleListPlans handles GET /v1/testplan/plans.
//
// Query Parameters:
//
//	project: Optional project filter
//	limit: Maximum results, default 100
//
// Response:
//
//	200 OK: ListPlansResponse
//	400 Bad Request: Invalid limit
//	503 Service Unavailable: Plan store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListPlans(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListPlans")

	if !h.requireStore(c) {
		return
	}

	limit := storage.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		limit = n
	}

	plans, err := h.svc.ListPlans(c.Request.Context(), c.Query("project"), limit)
	if err != nil {
		logger.Error("listing plans failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list plans: " + err.Error(),
			Code:  "PLAN_LIST_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, ListPlansResponse{Plans: plans, Count: len(plans)})
}

// HandleGetPlan handles GET /v1/testplan/plans/:id.
//
// Response:
//
//	200 OK: PlanResponse
//	404 Not Found: No such plan
//	503 Service Unavailable: Plan store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetPlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetPlan")

	if !h.requireStore(c) {
		return
	}

	plan, meta, err := h.svc.GetPlan(c.Request.Context(), c.Param("id"))
	h.writePlan(c, logger, plan, meta, err)
}

// HandleLatestPlan handles GET /v1/testplan/plans/latest/:project.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleLatestPlan(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLatestPlan")

	if !h.requireStore(c) {
		return
	}

	plan, meta, err := h.svc.LatestPlan(c.Request.Context(), c.Param("project"))
	h.writePlan(c, logger, plan, meta, err)
}

// HandleInvalidateCache handles DELETE /v1/testplan/cache/:project.
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleInvalidateCache(c *gin.Context) {
	project := c.Param("project")
	if err := analyzer.ValidateProjectName(project); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PROJECT",
		})
		return
	}
	c.JSON(http.StatusOK, InvalidateResponse{
		Project: project,
		Dropped: h.svc.InvalidateCache(project),
	})
}

// HandleHealth handles GET /v1/testplan/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.svc.Uptime() / time.Second),
		Store:         h.svc.HasStore(),
		Cache:         h.svc.Analyzer().Cache().Stats(),
	})
}

func (h *Handlers) requireStore(c *gin.Context) bool {
	if h.svc.HasStore() {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "plan persistence not configured",
		Code:  "PLANS_NOT_AVAILABLE",
	})
	return false
}

func (h *Handlers) writePlan(c *gin.Context, logger *slog.Logger, plan *batch.Plan, meta *storage.PlanMetadata, err error) {
	switch {
	case errors.Is(err, storage.ErrPlanNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "plan not found",
			Code:  "PLAN_NOT_FOUND",
		})
	case err != nil:
		logger.Error("loading plan failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load plan: " + err.Error(),
			Code:  "PLAN_LOAD_FAILED",
		})
	default:
		c.JSON(http.StatusOK, PlanResponse{Plan: plan, Metadata: meta})
	}
}

func (h *Handlers) writeAnalysisError(c *gin.Context, logger *slog.Logger, err error) {
	if errors.Is(err, analyzer.ErrInvalidProject) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PROJECT",
		})
		return
	}
	logger.Error("analysis failed", slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "analysis failed: " + err.Error(),
		Code:  "ANALYSIS_FAILED",
	})
}

// getOrCreateRequestID returns the caller's request ID or a new one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)
	return id
}
