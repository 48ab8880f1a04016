// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the sidecar.
//
// # Description
//
// This package implements Prometheus metrics for the validation pipeline.
// Metrics include:
//   - Pipeline request counters and per-stage latency histograms
//   - Delivered recommendations per validation tier
//   - Logic Guard actions per rule and action
//   - PII detections per type (counts only)
//   - Review queue depth, expert decisions and TTL evictions
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every helper is a no-op on a nil *SidecarMetrics, so components can run
// without metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "sidecar"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// Subsystem for review metrics
const reviewSubsystem = "review"

// SidecarMetrics holds all Prometheus metrics for the validation pipeline.
//
// # Description
//
// Initialize once per registry via NewSidecarMetrics.
//
// # Fields
//
//   - RequestsTotal: Pipeline runs by status
//   - StageDurationSeconds: Latency of each pipeline stage
//   - RecommendationsTotal: Delivered recommendations by tier
//   - GuardActionsTotal: Guard interventions by rule and action
//   - PIIDetectionsTotal: Sanitized values by PII type
//   - ModelCallsTotal: Model advisor calls by outcome
//   - QueueDepth: Active review queue items
//   - DecisionsTotal: Review resolutions by outcome
//   - EvictionsTotal: TTL evictions by store
//   - ErrorsTotal: API errors by endpoint and code
//
// # Thread Safety
//
// All operations are thread-safe.
type SidecarMetrics struct {
	// RequestsTotal counts pipeline runs.
	// Labels: status (success, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each stage.
	// Labels: stage (sanitize, evaluate, validate, score, guard, route, personalize)
	StageDurationSeconds *prometheus.HistogramVec

	// RecommendationsTotal counts delivered recommendations.
	// Labels: tier (automatic, async_review, sync_review)
	RecommendationsTotal *prometheus.CounterVec

	// GuardActionsTotal counts Logic Guard interventions.
	// Labels: rule, action (block, modify, warn)
	GuardActionsTotal *prometheus.CounterVec

	// PIIDetectionsTotal counts replaced values.
	// Labels: type (name, phone, email, coordinates, farm_id, farmer_id)
	PIIDetectionsTotal *prometheus.CounterVec

	// ModelCallsTotal counts model advisor calls.
	// Labels: status (success, error, rate_limited)
	ModelCallsTotal *prometheus.CounterVec

	// QueueDepth tracks active review queue items.
	QueueDepth prometheus.Gauge

	// DecisionsTotal counts review resolutions.
	// Labels: outcome (verified, rejected, expired)
	DecisionsTotal *prometheus.CounterVec

	// EvictionsTotal counts TTL evictions.
	// Labels: store (review_queue, pii_token_store)
	EvictionsTotal *prometheus.CounterVec

	// ErrorsTotal counts API errors.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec
}

// NewSidecarMetrics creates and registers all sidecar metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. Nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *SidecarMetrics: The initialized metrics instance.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewSidecarMetrics(reg)
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewSidecarMetrics(reg prometheus.Registerer) *SidecarMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &SidecarMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of pipeline runs by status",
			},
			[]string{"status"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"stage"},
		),

		RecommendationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "recommendations_total",
				Help:      "Delivered recommendations by validation tier",
			},
			[]string{"tier"},
		),

		GuardActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "guard_actions_total",
				Help:      "Logic Guard interventions by rule and action",
			},
			[]string{"rule", "action"},
		),

		PIIDetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "pii_detections_total",
				Help:      "Sanitized personal data values by type",
			},
			[]string{"type"},
		),

		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "model_calls_total",
				Help:      "Model advisor calls by outcome",
			},
			[]string{"status"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: reviewSubsystem,
				Name:      "queue_depth",
				Help:      "Number of active review queue items",
			},
		),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reviewSubsystem,
				Name:      "decisions_total",
				Help:      "Review queue resolutions by outcome",
			},
			[]string{"outcome"},
		),

		EvictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reviewSubsystem,
				Name:      "evictions_total",
				Help:      "Entries removed by TTL eviction by store",
			},
			[]string{"store"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_errors_total",
				Help:      "API errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates an unknown queue item or recommendation.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeConflict indicates an already resolved queue item.
	ErrorCodeConflict ErrorCode = "conflict"

	// ErrorCodeUnauthorized indicates a failed reviewer authentication.
	ErrorCodeUnauthorized ErrorCode = "unauthorized"

	// ErrorCodeUnavailable indicates a temporarily saturated component.
	ErrorCodeUnavailable ErrorCode = "unavailable"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// Model call outcomes.
const (
	ModelSuccess     = "success"
	ModelError       = "error"
	ModelRateLimited = "rate_limited"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed pipeline run.
func (m *SidecarMetrics) RecordRequest(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long a stage took since start.
//
// # Examples
//
//	start := time.Now()
//	// ... run guard ...
//	metrics.ObserveStage("guard", start)
func (m *SidecarMetrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRecommendation counts one delivered recommendation.
func (m *SidecarMetrics) RecordRecommendation(tier string) {
	if m == nil {
		return
	}
	m.RecommendationsTotal.WithLabelValues(tier).Inc()
}

// RecordGuardAction counts one guard intervention.
func (m *SidecarMetrics) RecordGuardAction(rule, action string) {
	if m == nil {
		return
	}
	m.GuardActionsTotal.WithLabelValues(rule, action).Inc()
}

// RecordPIIDetections adds per-type detection counts.
func (m *SidecarMetrics) RecordPIIDetections(counts map[string]int) {
	if m == nil {
		return
	}
	for typ, n := range counts {
		m.PIIDetectionsTotal.WithLabelValues(typ).Add(float64(n))
	}
}

// RecordModelCall counts one model advisor call.
func (m *SidecarMetrics) RecordModelCall(status string) {
	if m == nil {
		return
	}
	m.ModelCallsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth sets the active queue gauge.
func (m *SidecarMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordDecision counts one review resolution.
func (m *SidecarMetrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvictions adds evictions for a store.
func (m *SidecarMetrics) RecordEvictions(store string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(store).Add(float64(n))
}

// RecordError records an API error.
func (m *SidecarMetrics) RecordError(endpoint string, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(endpoint, string(code)).Inc()
}
