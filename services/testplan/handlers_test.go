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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTestPlan/services/testplan/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func writeSpec(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// setupWorkspace lays out tests/web with a dependent pair and one
// standalone spec.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	root := filepath.Join(ws, "tests", "web")
	writeSpec(t, filepath.Join(root, "auth", "login.spec.ts"), `import { shared } from './shared.spec';
test('user can login', async ({ page }) => { await page.goto('/'); });
`)
	writeSpec(t, filepath.Join(root, "auth", "shared.spec.ts"), `export const shared = 1;
test('navigate home', async () => {});
`)
	writeSpec(t, filepath.Join(root, "cart.spec.ts"), `test('add to cart', async () => {});
`)
	return ws
}

func setupTestRouter(t *testing.T, withStore bool) (*gin.Engine, *Service) {
	t.Helper()
	var opts []ServiceOption
	if withStore {
		db, err := storage.OpenDB("")
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store, err := storage.NewPlanStore(db, nil)
		require.NoError(t, err)
		opts = append(opts, WithStore(store))
	}
	svc, err := NewService(setupWorkspace(t), nil, opts...)
	require.NoError(t, err)
	return NewRouter(svc, nil), svc
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleAnalyze(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	w := doRequest(router, http.MethodPost, "/v1/testplan/analyze", AnalyzeRequest{Project: "web"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var resp struct {
		Project    string              `json:"project"`
		TotalTests int                 `json:"totalTests"`
		EdgeCount  int                 `json:"edgeCount"`
		Categories map[string][]string `json:"categories"`
		Graph      struct {
			Nodes []string `json:"nodes"`
			Edges []struct {
				From string `json:"from"`
				To   string `json:"to"`
			} `json:"edges"`
		} `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "web", resp.Project)
	assert.Equal(t, 3, resp.TotalTests)
	assert.Equal(t, 1, resp.EdgeCount)
	assert.Contains(t, resp.Categories, "auth")
	assert.Len(t, resp.Graph.Nodes, 3)
	require.Len(t, resp.Graph.Edges, 1)
	assert.Equal(t, "web:auth/login.spec.ts", resp.Graph.Edges[0].From)
	assert.Equal(t, "web:auth/shared.spec.ts", resp.Graph.Edges[0].To)
}

func TestHandleAnalyze_BadRequests(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	tests := []struct {
		name string
		body any
		code string
	}{
		{"missing project", map[string]string{}, "MISSING_PARAMETER"},
		{"path in project", AnalyzeRequest{Project: "../etc"}, "INVALID_PROJECT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/v1/testplan/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleCreateBatches_SavesPlan(t *testing.T) {
	router, _ := setupTestRouter(t, true)

	w := doRequest(router, http.MethodPost, "/v1/testplan/batches", BatchRequest{Project: "web"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[BatchResponse](t, w)
	require.NotNil(t, resp.Plan)
	assert.True(t, resp.Saved)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, resp.Plan.ID, resp.Metadata.PlanID)
	assert.Equal(t, 3, resp.Plan.Statistics.TotalTests)

	for _, b := range resp.Plan.Batches {
		files := strings.Join(b.Files(), ",")
		assert.False(t, strings.Contains(files, "login") && strings.Contains(files, "shared"),
			"dependent tests share batch %s", b.ID)
	}

	w = doRequest(router, http.MethodGet, "/v1/testplan/plans/"+resp.Plan.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.Plan.ID, decode[PlanResponse](t, w).Plan.ID)

	w = doRequest(router, http.MethodGet, "/v1/testplan/plans/latest/web", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.Plan.ID, decode[PlanResponse](t, w).Metadata.PlanID)

	w = doRequest(router, http.MethodGet, "/v1/testplan/plans?project=web&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListPlansResponse](t, w)
	assert.Equal(t, 1, list.Count)
}

func TestHandleCreateBatches_Overrides(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	size := 1
	w := doRequest(router, http.MethodPost, "/v1/testplan/batches", BatchRequest{
		Project: "web",
		Options: &OptionOverrides{MaxBatchSize: &size},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[BatchResponse](t, w)
	assert.False(t, resp.Saved)
	assert.Nil(t, resp.Metadata)
	assert.Equal(t, 1, resp.Plan.Options.MaxBatchSize)
	assert.Len(t, resp.Plan.Batches, 3)
}

func TestHandleCreateBatches_BadRequests(t *testing.T) {
	router, _ := setupTestRouter(t, false)
	zero := 0

	tests := []struct {
		name string
		body BatchRequest
		code string
	}{
		{"unknown phase", BatchRequest{Project: "web", Phase: "nightly"}, "INVALID_PHASE"},
		{"invalid options", BatchRequest{Project: "web", Options: &OptionOverrides{MaxBatchSize: &zero}}, "INVALID_OPTIONS"},
		{"invalid project", BatchRequest{Project: ".hidden"}, "INVALID_PROJECT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/v1/testplan/batches", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlePlans_WithoutStore(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	for _, path := range []string{"/v1/testplan/plans", "/v1/testplan/plans/abc", "/v1/testplan/plans/latest/web"} {
		w := doRequest(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, "PLANS_NOT_AVAILABLE", decode[ErrorResponse](t, w).Code)
	}
}

func TestHandlePlans_NotFoundAndBadLimit(t *testing.T) {
	router, _ := setupTestRouter(t, true)

	w := doRequest(router, http.MethodGet, "/v1/testplan/plans/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PLAN_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = doRequest(router, http.MethodGet, "/v1/testplan/plans?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleInvalidateCache(t *testing.T) {
	router, svc := setupTestRouter(t, false)

	w := doRequest(router, http.MethodDelete, "/v1/testplan/cache/web", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[InvalidateResponse](t, w).Dropped)

	_, err := svc.Analyze(t.Context(), "web")
	require.NoError(t, err)

	w = doRequest(router, http.MethodDelete, "/v1/testplan/cache/web", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[InvalidateResponse](t, w).Dropped)
}

func TestHandleHealthAndMetrics(t *testing.T) {
	router, _ := setupTestRouter(t, true)

	w := doRequest(router, http.MethodGet, "/v1/testplan/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Store)

	doRequest(router, http.MethodPost, "/v1/testplan/analyze", AnalyzeRequest{Project: "web"})
	w = doRequest(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "testplan_service_analyze_total")
}

func TestGetOrCreateRequestID_Echoes(t *testing.T) {
	router, _ := setupTestRouter(t, false)

	req, _ := http.NewRequest(http.MethodPost, "/v1/testplan/analyze", strings.NewReader(`{"project":"web"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}
