// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a SidecarMetrics instance with its own registry so
// tests never collide on the global one.
func newTestMetrics(t *testing.T) (*SidecarMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewSidecarMetrics(reg), reg
}

// ============================================================================
// Tests
// ============================================================================

func TestNewSidecarMetrics_Registers(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordRequest(true)
	m.SetQueueDepth(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sidecar_pipeline_requests_total"])
	assert.True(t, names["sidecar_review_queue_depth"])
}

func TestNewSidecarMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSidecarMetrics(reg)
	assert.Panics(t, func() { NewSidecarMetrics(reg) })
}

func TestRecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(true)
	m.RecordRequest(true)
	m.RecordRequest(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("error")))
}

func TestRecordGuardAction(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordGuardAction("GUARD_RAIN_HEAVY", "block")
	m.RecordGuardAction("GUARD_RAIN_HEAVY", "block")
	m.RecordGuardAction("GUARD_SPRAY_WIND", "modify")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GuardActionsTotal.WithLabelValues("GUARD_RAIN_HEAVY", "block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardActionsTotal.WithLabelValues("GUARD_SPRAY_WIND", "modify")))
}

func TestRecordPIIDetections(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPIIDetections(map[string]int{"phone": 2, "name": 1})
	m.RecordPIIDetections(map[string]int{"phone": 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PIIDetectionsTotal.WithLabelValues("phone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PIIDetectionsTotal.WithLabelValues("name")))
}

func TestRecordEvictions_IgnoresZero(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordEvictions("review_queue", 0)
	m.RecordEvictions("review_queue", 4)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.EvictionsTotal.WithLabelValues("review_queue")))
}

func TestGaugesAndCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetQueueDepth(7)
	m.SetQueueDepth(5)
	m.RecordRecommendation("sync_review")
	m.RecordDecision("verified")
	m.RecordModelCall(ModelRateLimited)
	m.RecordError("/v1/review/decisions", ErrorCodeNotFound)
	m.ObserveStage("guard", time.Now())

	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecommendationsTotal.WithLabelValues("sync_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelCallsTotal.WithLabelValues(ModelRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("/v1/review/decisions", "not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDurationSeconds))
}

func TestNilMetrics_AreNoOps(t *testing.T) {
	var m *SidecarMetrics
	assert.NotPanics(t, func() {
		m.RecordRequest(true)
		m.ObserveStage("guard", time.Now())
		m.RecordRecommendation("automatic")
		m.RecordGuardAction("r", "block")
		m.RecordPIIDetections(map[string]int{"phone": 1})
		m.RecordModelCall(ModelSuccess)
		m.SetQueueDepth(1)
		m.RecordDecision("verified")
		m.RecordEvictions("s", 1)
		m.RecordError("e", ErrorCodeInternal)
	})
}
