// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the sidecar's HTTP endpoints.
//
// Every handler is a constructor returning a gin.HandlerFunc closed over its
// collaborators. Errors are returned as {"error": "..."} with the status code
// derived from the sentinel error, and counted in observability.ErrorsTotal.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/sidecar"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError writes an error body and counts it.
func respondError(c *gin.Context, metrics *observability.SidecarMetrics, status int, code observability.ErrorCode, msg string) {
	metrics.RecordError(c.FullPath(), code)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// HandleRecommendation runs the full validation pipeline.
//
// # Description
//
// POST /v1/recommendations. The body is a datatypes.RecommendationRequest
// carrying real identifiers; the response is the personalized
// datatypes.SidecarResponse.
//
// # Outputs
//
//   - 200 with the response.
//   - 400 for a malformed or invalid request.
//   - 409 when the same request id is already being processed.
//   - 503 when too many requests are in flight.
//   - 500 for anything else.
func HandleRecommendation(p *sidecar.Pipeline, metrics *observability.SidecarMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RecommendationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
			return
		}

		resp, err := p.Process(c.Request.Context(), req)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, resp)
		case errors.Is(err, sidecar.ErrInvalidRequest):
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, err.Error())
		case errors.Is(err, pii_gateway.ErrRequestInFlight):
			respondError(c, metrics, http.StatusConflict, observability.ErrorCodeConflict, "Request is already being processed")
		case errors.Is(err, pii_gateway.ErrTokenStoreFull):
			c.Header("Retry-After", "1")
			respondError(c, metrics, http.StatusServiceUnavailable, observability.ErrorCodeUnavailable, "Too many requests in flight, retry later")
		default:
			slog.Error("Recommendation pipeline failed",
				"request_id", req.RequestID,
				"error", err)
			respondError(c, metrics, http.StatusInternalServerError, observability.ErrorCodeInternal, "Failed to process recommendation request")
		}
	}
}

// HandleRecommendationStatus returns the validation state of one
// recommendation. Approved content is included only when automatic or
// verified.
func HandleRecommendationStatus(router *validation_router.Router, metrics *observability.SidecarMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := router.Status(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, report)
		case errors.Is(err, validation_router.ErrRecommendationNotFound):
			respondError(c, metrics, http.StatusNotFound, observability.ErrorCodeNotFound, "Recommendation not found")
		default:
			slog.Error("Failed to read recommendation status", "error", err)
			respondError(c, metrics, http.StatusInternalServerError, observability.ErrorCodeInternal, "Failed to read recommendation status")
		}
	}
}

// HandleListRules lists the active rulebook, optionally filtered by
// ?category=.
func HandleListRules(rules rulebook.Source, metrics *observability.SidecarMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		rb := rules.Current()
		list := rb.Rules()
		if raw := c.Query("category"); raw != "" {
			category := datatypes.Category(raw)
			if !category.Valid() {
				respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, "Unknown category: "+raw)
				return
			}
			list = rb.ByCategory(category)
		}
		c.JSON(http.StatusOK, gin.H{
			"version": rb.Version(),
			"count":   len(list),
			"rules":   list,
		})
	}
}

// HandleStats returns pipeline counters, guard overrides and the queue
// summary.
func HandleStats(p *sidecar.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Stats())
	}
}
