// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trust_scorer

import (
	"testing"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	rb, err := rulebook.Default()
	require.NoError(t, err)
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	return New(rb, cat)
}

func TestCatalog_Default(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, 7, cat.Len())

	c, ok := cat.Get("FAO_56")
	require.True(t, ok)
	assert.Equal(t, datatypes.CitationResearch, c.Type)
	assert.InDelta(t, 0.9, c.Reliability, 1e-9)

	got := cat.Resolve([]string{"missing", "AZ_VET_2022"})
	require.Len(t, got, 1)
	assert.Equal(t, "AZ_VET_2022", got[0].ID)
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "citations: [\n"},
		{"missing title", "citations:\n  - id: A\n    type: guideline\n    reliability: 0.5\n"},
		{"reliability out of range", "citations:\n  - id: A\n    type: guideline\n    title: t\n    reliability: 1.5\n"},
		{"duplicate", "citations:\n  - {id: A, type: guideline, title: t, reliability: 0.5}\n  - {id: A, type: guideline, title: t, reliability: 0.5}\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{1.0, LevelVeryHigh},
		{0.90, LevelVeryHigh},
		{0.89, LevelHigh},
		{0.75, LevelHigh},
		{0.74, LevelModerate},
		{0.60, LevelModerate},
		{0.59, LevelLow},
		{0.40, LevelLow},
		{0.39, LevelExperimental},
		{0, LevelExperimental},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, LevelFor(tc.score), "score %.2f", tc.score)
	}
}

func TestScore_SingleRuleKnownSeason(t *testing.T) {
	s := newTestScorer(t)

	ts := s.Score(Input{
		RuleIDs:       []string{"IRR_001"},
		Season:        "spring",
		RawConfidence: 0.95,
		Category:      datatypes.CategoryIrrigation,
	})

	assert.InDelta(t, 0.80, ts.Breakdown.RuleMatch, 1e-9)
	assert.InDelta(t, (0.9+0.95+0.9)/3, ts.Breakdown.SourceQuality, 1e-9)
	assert.InDelta(t, 1.0, ts.Breakdown.ExpertValidation, 1e-9)
	assert.InDelta(t, RelevanceUnrestricted, ts.Breakdown.TemporalRelevance, 1e-9)
	assert.InDelta(t, RelevanceUnknown, ts.Breakdown.RegionalRelevance, 1e-9)
	assert.GreaterOrEqual(t, ts.Overall, 0.85)
	assert.Equal(t, LevelHigh, ts.Level)
	assert.Empty(t, ts.Warnings)

	ids := make([]string, 0, len(ts.Citations))
	for _, c := range ts.Citations {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"rule:IRR_001", "AZ_MOA_IRRIGATION_2022", "FAO_56"}, ids)
}

func TestScore_NoRules(t *testing.T) {
	s := newTestScorer(t)

	ts := s.Score(Input{RawConfidence: 0.5, Category: datatypes.CategoryGeneral})

	assert.InDelta(t, 0.3, ts.Breakdown.RuleMatch, 1e-9)
	assert.InDelta(t, 0.5, ts.Breakdown.SourceQuality, 1e-9)
	assert.InDelta(t, 0.4, ts.Breakdown.ExpertValidation, 1e-9)
	assert.Less(t, ts.Overall, LowConfidenceThreshold)
	assert.NotEmpty(t, ts.Warnings)
	assert.Empty(t, ts.Citations)
}

func TestScore_Caveats(t *testing.T) {
	s := newTestScorer(t)

	t.Run("season mismatch", func(t *testing.T) {
		ts := s.Score(Input{RuleIDs: []string{"IRR_002"}, Season: "winter", Category: datatypes.CategoryIrrigation})
		assert.InDelta(t, RelevanceMismatch, ts.Breakdown.TemporalRelevance, 1e-9)
		require.NotEmpty(t, ts.Caveats)
		assert.Contains(t, ts.Caveats[0], "Seasonal mismatch")
	})

	t.Run("season match", func(t *testing.T) {
		ts := s.Score(Input{RuleIDs: []string{"IRR_002"}, Season: "Summer", Category: datatypes.CategoryIrrigation})
		assert.InDelta(t, RelevanceMatch, ts.Breakdown.TemporalRelevance, 1e-9)
		assert.Empty(t, ts.Caveats)
	})

	t.Run("citation region counts as regional match", func(t *testing.T) {
		ts := s.Score(Input{RuleIDs: []string{"IRR_001"}, Region: "azerbaijan", Category: datatypes.CategoryIrrigation})
		assert.InDelta(t, RelevanceMatch, ts.Breakdown.RegionalRelevance, 1e-9)
	})

	t.Run("pesticide safety caveat", func(t *testing.T) {
		ts := s.Score(Input{RuleIDs: []string{"PSTC_001"}, Category: datatypes.CategoryPesticide})
		require.NotEmpty(t, ts.Caveats)
		assert.Contains(t, ts.Caveats[len(ts.Caveats)-1], "Chemical safety")
		assert.InDelta(t, 0.7, ts.Breakdown.ExpertValidation, 1e-9)
	})
}

func TestScore_TwoRulesBeatOne(t *testing.T) {
	s := newTestScorer(t)

	one := s.Score(Input{RuleIDs: []string{"IRR_002"}, Season: "summer"})
	two := s.Score(Input{RuleIDs: []string{"IRR_002", "IRR_002", "FERT_002"}, Season: "summer"})
	assert.InDelta(t, 0.95, two.Breakdown.RuleMatch, 1e-9)
	assert.Greater(t, two.Breakdown.RuleMatch, one.Breakdown.RuleMatch)
}

func TestScore_ExpertValidated(t *testing.T) {
	s := newTestScorer(t)
	ts := s.Score(Input{RawConfidence: 0.8, ExpertValidated: true})
	assert.InDelta(t, 1.0, ts.Breakdown.ExpertValidation, 1e-9)
}

func TestScore_CallerCitationsAreMerged(t *testing.T) {
	s := newTestScorer(t)
	ts := s.Score(Input{
		RawConfidence: 0.5,
		Citations: []datatypes.Citation{
			{ID: "OBS_1", Type: datatypes.CitationObservation, Title: "Field scouting", Reliability: 0.6},
			{ID: "OBS_1", Type: datatypes.CitationObservation, Title: "Field scouting", Reliability: 0.6},
		},
	})
	require.Len(t, ts.Citations, 1)
	assert.InDelta(t, 0.6, ts.Breakdown.SourceQuality, 1e-9)
}

func TestBreakdown_OverallMonotoneAndClamped(t *testing.T) {
	base := Breakdown{RuleMatch: 0.5, SourceQuality: 0.5, ExpertValidation: 0.5, TemporalRelevance: 0.5, RegionalRelevance: 0.5}
	bumps := []func(*Breakdown, float64){
		func(b *Breakdown, v float64) { b.RuleMatch = v },
		func(b *Breakdown, v float64) { b.SourceQuality = v },
		func(b *Breakdown, v float64) { b.ExpertValidation = v },
	}
	for i, bump := range bumps {
		prev := -1.0
		for v := 0.0; v <= 1.0; v += 0.1 {
			b := base
			bump(&b, v)
			got := b.Overall()
			assert.GreaterOrEqual(t, got, prev, "sub-score %d at %.1f", i, v)
			prev = got
		}
	}

	high := Breakdown{RuleMatch: 5, SourceQuality: 5, ExpertValidation: 5, TemporalRelevance: 5, RegionalRelevance: 5}
	assert.Equal(t, 1.0, high.Overall())
	low := Breakdown{RuleMatch: -5}
	assert.Equal(t, 0.0, low.Overall())
}
