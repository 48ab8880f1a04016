// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/logic_guard"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/sidecar"
	"github.com/AleutianAI/SidecarIntelligence/services/trust_scorer"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	reviewerToken = "tok-aysel"
	adminToken    = "tok-admin"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router, _ := newTestRouterWithGateway(t, pii_gateway.Config{TokenTTL: time.Minute})
	return router
}

func newTestRouterWithGateway(t *testing.T, gwCfg pii_gateway.Config) (*gin.Engine, *pii_gateway.Gateway) {
	t.Helper()
	rb, err := rulebook.Default()
	require.NoError(t, err)
	gateway, err := pii_gateway.New(gwCfg, nil, nil)
	require.NoError(t, err)
	guard, err := logic_guard.Load("", nil)
	require.NoError(t, err)
	catalog, err := trust_scorer.DefaultCatalog()
	require.NoError(t, err)
	review, err := validation_router.New(validation_router.DefaultPolicy(), rb, validation_router.Options{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.NewSidecarMetrics(reg)
	p, err := sidecar.New(sidecar.Dependencies{
		Gateway: gateway,
		Rules:   rb,
		Catalog: catalog,
		Guard:   guard,
		Router:  review,
		Metrics: metrics,
	})
	require.NoError(t, err)

	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewStaticTokenProvider(map[string]string{
			reviewerToken: "rev-aysel",
			adminToken:    "rev-admin",
		}).WithAdmins("rev-admin"))
	router := gin.New()
	SetupRoutes(router, Dependencies{Pipeline: p, Metrics: metrics, Gatherer: reg}, opts)
	return router, gateway
}

func do(t *testing.T, router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func recommendationBody(moisture float64, rain bool) datatypes.RecommendationRequest {
	return datatypes.RecommendationRequest{
		Identifiers: datatypes.RawIdentifiers{FarmerID: "farmer-17", FarmID: "farm-42"},
		Context: datatypes.FarmContext{
			Farm:    datatypes.FarmInfo{Type: "crop", Crops: []string{"wheat"}, Region: "Aran"},
			Soil:    &datatypes.SoilReadings{MoisturePct: datatypes.Float(moisture)},
			Weather: &datatypes.WeatherReadings{PrecipitationExpected: datatypes.Bool(rain)},
		},
	}
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) datatypes.SidecarResponse {
	t.Helper()
	var resp datatypes.SidecarResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ============================================================================
// Public Endpoints
// ============================================================================

func TestSetupRoutes_HealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, false), "")
	w = do(t, router, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sidecar_pipeline_requests_total")
}

func TestHandleRecommendation(t *testing.T) {
	router := newTestRouter(t)

	w := do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, false), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeResponse(t, w)
	assert.Equal(t, "farm-42", resp.FarmID)
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "IRR_001", resp.Recommendations[0].RuleID)
	assert.Equal(t, datatypes.TierAutomatic, resp.Recommendations[0].Tier)
	assert.NotEmpty(t, resp.RequestID)
}

func TestHandleRecommendation_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := recommendationBody(12, false)
	body.Identifiers.FarmerID = ""
	w = do(t, router, http.MethodPost, "/v1/recommendations", body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = recommendationBody(12, false)
	body.RequestID = "not-a-uuid"
	w = do(t, router, http.MethodPost, "/v1/recommendations", body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecommendation_TokenStoreFull(t *testing.T) {
	router, gateway := newTestRouterWithGateway(t, pii_gateway.Config{TokenTTL: time.Minute, MaxEntries: 1})

	_, err := gateway.Sanitize(context.Background(), "", datatypes.RawIdentifiers{FarmerID: "f-1", FarmID: "farm-1"}, "")
	require.NoError(t, err)

	w := do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, false), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, gateway.Store().Len(), "in-flight entry is kept")
}

func TestHandleRecommendationStatus(t *testing.T) {
	router := newTestRouter(t)
	resp := decodeResponse(t, do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, false), ""))
	require.Len(t, resp.Recommendations, 1)

	w := do(t, router, http.MethodGet, "/v1/recommendations/"+resp.Recommendations[0].ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report validation_router.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, datatypes.StatusAutomatic, report.Status)
	require.NotNil(t, report.Recommendation)

	w = do(t, router, http.MethodGet, "/v1/recommendations/unknown-id", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListRules(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"all rules", "/v1/rules", http.StatusOK},
		{"by category", "/v1/rules?category=irrigation", http.StatusOK},
		{"unknown category", "/v1/rules?category=rocketry", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.code, w.Code)
		})
	}

	w := do(t, router, http.MethodGet, "/v1/rules?category=irrigation", nil, "")
	var body struct {
		Count int             `json:"count"`
		Rules []rulebook.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, len(body.Rules), body.Count)
	for _, r := range body.Rules {
		assert.Equal(t, datatypes.CategoryIrrigation, r.Category)
	}
}

// ============================================================================
// Review Endpoints
// ============================================================================

func TestReviewEndpoints_RequireReviewer(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/v1/review/items", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodGet, "/v1/review/items", nil, "wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/review/items", nil, reviewerToken).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/review/queue", nil, "").Code, "queue summary is public")
}

func TestReviewFlow(t *testing.T) {
	router := newTestRouter(t)

	resp := decodeResponse(t, do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, true), ""))
	require.Len(t, resp.Recommendations, 1)
	delivered := resp.Recommendations[0]
	require.Equal(t, datatypes.TierAsyncReview, delivered.Tier)

	w := do(t, router, http.MethodGet, "/v1/review/items", nil, reviewerToken)
	require.Equal(t, http.StatusOK, w.Code)
	var items struct {
		Count int                           `json:"count"`
		Items []validation_router.QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Equal(t, 1, items.Count)
	assert.Equal(t, delivered.QueueItemID, items.Items[0].ID)

	tests := []struct {
		name string
		body validation_router.DecisionRequest
		code int
	}{
		{"missing item id", validation_router.DecisionRequest{Approve: true}, http.StatusBadRequest},
		{"unknown item", validation_router.DecisionRequest{QueueItemID: "nope", Approve: true}, http.StatusNotFound},
		{"impersonation", validation_router.DecisionRequest{QueueItemID: delivered.QueueItemID, ReviewerID: "rev-other", Approve: true}, http.StatusForbidden},
		{"approve", validation_router.DecisionRequest{QueueItemID: delivered.QueueItemID, Approve: true}, http.StatusOK},
		{"already resolved", validation_router.DecisionRequest{QueueItemID: delivered.QueueItemID, Approve: false}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/v1/review/decisions", tt.body, reviewerToken)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w = do(t, router, http.MethodGet, "/v1/recommendations/"+delivered.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report validation_router.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, datatypes.StatusVerified, report.Status)
	require.NotNil(t, report.Decision)
	assert.Equal(t, "rev-aysel", report.Decision.ReviewerID)
	require.NotNil(t, report.Recommendation)
}

func TestReviewerRegistration(t *testing.T) {
	router := newTestRouter(t)
	rev := validation_router.Reviewer{
		ID:        "rev-aysel",
		Name:      "Aysel",
		Expertise: []datatypes.Category{datatypes.CategoryIrrigation},
	}

	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/v1/review/reviewers", rev, "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodPost, "/v1/review/reviewers", rev, reviewerToken).Code,
		"reviewers cannot register reviewers")

	assert.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/v1/review/reviewers", rev, adminToken).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/v1/review/reviewers", rev, adminToken).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/v1/review/reviewers",
		validation_router.Reviewer{ID: "rev-2"}, adminToken).Code, "expertise is required")

	w := do(t, router, http.MethodGet, "/v1/review/reviewers", nil, reviewerToken)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestHandleStats(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/v1/recommendations", recommendationBody(12, false), "")

	w := do(t, router, http.MethodGet, "/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats sidecar.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(1), stats.ByTier[string(datatypes.TierAutomatic)])
}
