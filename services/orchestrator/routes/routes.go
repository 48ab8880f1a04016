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
	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/handlers"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/middleware"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/sidecar"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators the HTTP surface needs.
//
//   - Pipeline: Required.
//   - Metrics: Optional; nil disables API error counting.
//   - Gatherer: Source for /metrics; nil skips the endpoint.
type Dependencies struct {
	Pipeline *sidecar.Pipeline
	Metrics  *observability.SidecarMetrics
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers every sidecar endpoint on router.
//
// Review endpoints require an identity with extensions.RoleReviewer,
// authenticated by opts.AuthProvider.
func SetupRoutes(router *gin.Engine, deps Dependencies, opts extensions.ServiceOptions) {
	opts = opts.WithDefaults()
	p := deps.Pipeline
	review := p.Router()

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/recommendations", handlers.HandleRecommendation(p, deps.Metrics))
		v1.GET("/recommendations/:id", handlers.HandleRecommendationStatus(review, deps.Metrics))
		v1.GET("/rules", handlers.HandleListRules(p.Rules(), deps.Metrics))
		v1.GET("/stats", handlers.HandleStats(p))
		v1.GET("/review/queue", handlers.HandleQueueSummary(review))

		reviewers := v1.Group("/review")
		reviewers.Use(middleware.AuthMiddleware(opts.AuthProvider), middleware.RequireRole(extensions.RoleReviewer))
		{
			reviewers.GET("/items", handlers.HandlePendingItems(review))
			reviewers.POST("/decisions", handlers.HandleDecision(review, deps.Metrics))
			reviewers.GET("/reviewers", handlers.HandleListReviewers(review))
			reviewers.POST("/reviewers", middleware.RequireRole(extensions.RoleAdmin),
				handlers.HandleRegisterReviewer(review, deps.Metrics))
		}
	}
}
