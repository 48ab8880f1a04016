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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/middleware"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var reviewValidate = validator.New()

// HandleQueueSummary returns an eventually consistent view of the review
// queue.
func HandleQueueSummary(router *validation_router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, router.Queue().Summary())
	}
}

// HandlePendingItems lists active queue items by priority then age.
// ?reviewer= keeps only items assigned to that reviewer; ?reviewer=me
// resolves to the authenticated reviewer.
func HandlePendingItems(router *validation_router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		reviewer := c.Query("reviewer")
		if reviewer == "me" {
			if info := middleware.GetAuthInfo(c); info != nil {
				reviewer = info.UserID
			}
		}
		items := router.Queue().Pending(reviewer)
		c.JSON(http.StatusOK, gin.H{
			"count": len(items),
			"items": items,
		})
	}
}

// HandleDecision records an expert decision on a queue item.
//
// # Description
//
// POST /v1/review/decisions. The deciding reviewer is the authenticated
// identity; a body reviewer_id naming someone else is rejected.
//
// # Outputs
//
//   - 200 with the recorded decision.
//   - 400 for an invalid body.
//   - 403 when reviewer_id does not match the caller.
//   - 404 for an unknown queue item.
//   - 409 for an item that was already decided or expired.
func HandleDecision(router *validation_router.Router, metrics *observability.SidecarMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation_router.DecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
			return
		}
		if err := reviewValidate.Struct(req); err != nil {
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, err.Error())
			return
		}

		info := middleware.GetAuthInfo(c)
		if info == nil {
			respondError(c, metrics, http.StatusUnauthorized, observability.ErrorCodeUnauthorized, "unauthorized")
			return
		}
		if req.ReviewerID != "" && req.ReviewerID != info.UserID {
			respondError(c, metrics, http.StatusForbidden, observability.ErrorCodeUnauthorized, "reviewer_id does not match the authenticated reviewer")
			return
		}
		req.ReviewerID = info.UserID

		decision, err := router.Decide(c.Request.Context(), req)
		switch {
		case err == nil:
			metrics.RecordDecision(string(decision.Outcome))
			metrics.SetQueueDepth(router.Queue().Len())
			c.JSON(http.StatusOK, decision)
		case errors.Is(err, validation_router.ErrQueueItemNotFound):
			respondError(c, metrics, http.StatusNotFound, observability.ErrorCodeNotFound, "Queue item not found")
		case errors.Is(err, validation_router.ErrAlreadyResolved):
			respondError(c, metrics, http.StatusConflict, observability.ErrorCodeConflict, "Queue item already resolved")
		default:
			slog.Error("Failed to record expert decision",
				"queue_item_id", req.QueueItemID,
				"error", err)
			respondError(c, metrics, http.StatusInternalServerError, observability.ErrorCodeInternal, "Failed to record decision")
		}
	}
}

// HandleRegisterReviewer adds a reviewer to the registry.
func HandleRegisterReviewer(router *validation_router.Router, metrics *observability.SidecarMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rev validation_router.Reviewer
		if err := c.ShouldBindJSON(&rev); err != nil {
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request body")
			return
		}
		if err := router.Reviewers().Register(rev); err != nil {
			if errors.Is(err, validation_router.ErrReviewerExists) {
				respondError(c, metrics, http.StatusConflict, observability.ErrorCodeConflict, err.Error())
				return
			}
			respondError(c, metrics, http.StatusBadRequest, observability.ErrorCodeValidation, err.Error())
			return
		}
		info, _ := router.Reviewers().Get(rev.ID)
		c.JSON(http.StatusCreated, info)
	}
}

// HandleListReviewers lists reviewers with their running approval stats.
func HandleListReviewers(router *validation_router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := router.Reviewers().List()
		c.JSON(http.StatusOK, gin.H{
			"count":     len(list),
			"reviewers": list,
		})
	}
}
