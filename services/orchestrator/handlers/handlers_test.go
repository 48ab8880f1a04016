// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/middleware"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newReviewRouter(t *testing.T) *validation_router.Router {
	t.Helper()
	rb, err := rulebook.Default()
	require.NoError(t, err)
	r, err := validation_router.New(validation_router.DefaultPolicy(), rb, validation_router.Options{})
	require.NoError(t, err)
	return r
}

// withIdentity injects info the way AuthMiddleware would.
func withIdentity(info *extensions.AuthInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		if info != nil {
			middleware.SetAuthInfo(c, info)
		}
		c.Next()
	}
}

func serve(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	engine := gin.New()
	engine.GET("/health", HealthCheck)

	w := serve(engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleDecision_Identity(t *testing.T) {
	tests := []struct {
		name     string
		identity *extensions.AuthInfo
		body     any
		want     int
	}{
		{
			name: "no identity",
			body: validation_router.DecisionRequest{QueueItemID: "q-1", Approve: true},
			want: http.StatusUnauthorized,
		},
		{
			name:     "reviewer mismatch",
			identity: &extensions.AuthInfo{UserID: "rev-aysel"},
			body:     validation_router.DecisionRequest{QueueItemID: "q-1", ReviewerID: "rev-other", Approve: true},
			want:     http.StatusForbidden,
		},
		{
			name:     "missing queue item id",
			identity: &extensions.AuthInfo{UserID: "rev-aysel"},
			body:     validation_router.DecisionRequest{Approve: true},
			want:     http.StatusBadRequest,
		},
		{
			name:     "adjusted confidence out of range",
			identity: &extensions.AuthInfo{UserID: "rev-aysel"},
			body:     map[string]any{"queue_item_id": "q-1", "approve": true, "adjusted_confidence": 1.5},
			want:     http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			identity: &extensions.AuthInfo{UserID: "rev-aysel"},
			body:     "not an object",
			want:     http.StatusBadRequest,
		},
		{
			name:     "unknown item",
			identity: &extensions.AuthInfo{UserID: "rev-aysel"},
			body:     validation_router.DecisionRequest{QueueItemID: "q-missing", Approve: true},
			want:     http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			engine.POST("/decisions", withIdentity(tt.identity), HandleDecision(newReviewRouter(t), nil))

			w := serve(engine, http.MethodPost, "/decisions", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestHandlePendingItems_Me(t *testing.T) {
	router := newReviewRouter(t)

	for _, identity := range []*extensions.AuthInfo{nil, {UserID: "rev-aysel"}} {
		engine := gin.New()
		engine.GET("/items", withIdentity(identity), HandlePendingItems(router))

		w := serve(engine, http.MethodGet, "/items?reviewer=me", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Zero(t, body.Count)
	}
}

func TestHandleReviewers(t *testing.T) {
	router := newReviewRouter(t)
	engine := gin.New()
	engine.POST("/reviewers", HandleRegisterReviewer(router, nil))
	engine.GET("/reviewers", HandleListReviewers(router))

	rev := validation_router.Reviewer{
		ID:        "rev-aysel",
		Name:      "Aysel",
		Expertise: []datatypes.Category{datatypes.CategoryIrrigation},
	}
	assert.Equal(t, http.StatusCreated, serve(engine, http.MethodPost, "/reviewers", rev).Code)
	assert.Equal(t, http.StatusConflict, serve(engine, http.MethodPost, "/reviewers", rev).Code)
	assert.Equal(t, http.StatusBadRequest,
		serve(engine, http.MethodPost, "/reviewers", validation_router.Reviewer{ID: "rev-empty"}).Code)

	w := serve(engine, http.MethodGet, "/reviewers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandleListRules_Category(t *testing.T) {
	store, err := rulebook.OpenStore("", nil)
	require.NoError(t, err)
	engine := gin.New()
	engine.GET("/rules", HandleListRules(store, nil))

	w := serve(engine, http.MethodGet, "/rules?category=irrigation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int               `json:"count"`
		Rules []json.RawMessage `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, len(body.Rules), body.Count)
	assert.Positive(t, body.Count)

	w = serve(engine, http.MethodGet, "/rules?category=volcano", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecommendationStatus_NotFound(t *testing.T) {
	engine := gin.New()
	engine.GET("/recommendations/:id", HandleRecommendationStatus(newReviewRouter(t), nil))

	w := serve(engine, http.MethodGet, "/recommendations/rec-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
