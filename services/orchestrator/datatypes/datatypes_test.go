// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var july15 = time.Date(2025, time.July, 15, 9, 0, 0, 0, time.UTC)

func fullContext() FarmContext {
	return NewFarmContext(FarmContext{
		Farm: FarmInfo{
			Type:         "mixed",
			Crops:        []string{"wheat", "Cotton"},
			Livestock:    []string{"sheep"},
			Region:       "Aran",
			AreaHectares: Float(12.5),
		},
		Soil: &SoilReadings{
			MoisturePct: Float(18),
			PH:          Float(6.8),
			Nitrogen:    Float(40),
			Phosphorus:  Float(22),
			Potassium:   Float(180),
		},
		Weather: &WeatherReadings{
			TemperatureMin:        Float(21),
			TemperatureMax:        Float(38),
			HumidityPct:           Float(35),
			PrecipitationExpected: Bool(false),
			PrecipitationMM:       Float(0),
			WindSpeedMS:           Float(4),
		},
		Temporal: TemporalInfo{CropStage: "flowering", DaysToHarvest: Int(30)},
		User:     UserQuery{Query: "when should I water?", Language: "en"},
		Extra: map[string]any{
			"irrigation_system": "drip",
			"wells":             2,
			"tags":              []any{"organic", "export"},
			"bad_list":          []any{"x", 1},
		},
	}, july15)
}

// =============================================================================
// FarmContext Tests
// =============================================================================

func TestFarmContext_Lookup(t *testing.T) {
	ctx := fullContext()

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"farm.type", "mixed", true},
		{"farm.crops", []string{"wheat", "Cotton"}, true},
		{"farm.livestock", []string{"sheep"}, true},
		{"farm.region", "Aran", true},
		{"farm.area_hectares", 12.5, true},
		{"soil.moisture", 18.0, true},
		{"soil.ph", 6.8, true},
		{"soil.nitrogen", 40.0, true},
		{"soil.phosphorus", 22.0, true},
		{"soil.potassium", 180.0, true},
		{"weather.temperature_min", 21.0, true},
		{"weather.temperature_max", 38.0, true},
		{"weather.humidity", 35.0, true},
		{"weather.precipitation_expected", false, true},
		{"weather.precipitation_mm", 0.0, true},
		{"weather.wind_speed", 4.0, true},
		{"temporal.season", "summer", true},
		{"temporal.month", 7.0, true},
		{"temporal.crop_stage", "flowering", true},
		{"temporal.days_to_harvest", 30.0, true},
		{"user.query", "when should I water?", true},
		{"user.language", "en", true},
		{"extra.irrigation_system", "drip", true},
		{"extra.wells", 2.0, true},
		{"extra.tags", []string{"organic", "export"}, true},
		{"extra.bad_list", nil, false},
		{"extra.missing", nil, false},
		{"soil.salinity", nil, false},
		{"weather.pressure", nil, false},
		{"farm", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ctx.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFarmContext_LookupUnset(t *testing.T) {
	ctx := NewFarmContext(FarmContext{}, july15)

	for _, path := range []string{
		"farm.type", "farm.crops", "farm.area_hectares", "soil.moisture",
		"weather.precipitation_expected", "temporal.crop_stage",
		"temporal.days_to_harvest", "user.query",
	} {
		v, ok := ctx.Lookup(path)
		assert.False(t, ok, path)
		assert.Nil(t, v, path)
	}
}

func TestNewFarmContext_DeepCopy(t *testing.T) {
	src := FarmContext{
		Farm:    FarmInfo{Crops: []string{"wheat"}},
		Soil:    &SoilReadings{MoisturePct: Float(20)},
		Weather: &WeatherReadings{PrecipitationExpected: Bool(true)},
		Extra:   map[string]any{"tags": []string{"a"}},
	}
	ctx := NewFarmContext(src, july15)

	src.Farm.Crops[0] = "barley"
	*src.Soil.MoisturePct = 90
	*src.Weather.PrecipitationExpected = false
	src.Extra["tags"].([]string)[0] = "b"
	src.Extra["new"] = 1

	assert.Equal(t, []string{"wheat"}, ctx.Farm.Crops)
	assert.Equal(t, 20.0, *ctx.Soil.MoisturePct)
	assert.True(t, *ctx.Weather.PrecipitationExpected)
	assert.Equal(t, []string{"a"}, ctx.Extra["tags"])
	_, ok := ctx.Extra["new"]
	assert.False(t, ok)
}

func TestNewFarmContext_TemporalDefaults(t *testing.T) {
	ctx := NewFarmContext(FarmContext{}, july15)
	assert.Equal(t, july15, ctx.Temporal.Date)
	assert.Equal(t, 7, ctx.Temporal.Month)
	assert.Equal(t, "summer", ctx.Temporal.Season)

	// Explicit values win over the reference date.
	ctx = NewFarmContext(FarmContext{Temporal: TemporalInfo{Month: 3, Season: "late-winter"}}, july15)
	assert.Equal(t, 3, ctx.Temporal.Month)
	assert.Equal(t, "late-winter", ctx.Temporal.Season)
}

func TestSeasonForMonth(t *testing.T) {
	tests := map[int]string{
		1: "winter", 2: "winter", 3: "spring", 5: "spring", 6: "summer",
		8: "summer", 9: "autumn", 11: "autumn", 12: "winter", 0: "", 13: "",
	}
	for month, want := range tests {
		assert.Equal(t, want, SeasonForMonth(month), "month %d", month)
	}
}

func TestFarmContext_WithQueryAndHasCrop(t *testing.T) {
	ctx := fullContext()
	sanitized := ctx.WithQuery("[FARMER] asks about water")

	assert.Equal(t, "[FARMER] asks about water", sanitized.User.Query)
	assert.Equal(t, "when should I water?", ctx.User.Query, "original is untouched")
	assert.Equal(t, ctx.Temporal.Date, sanitized.Temporal.Date)

	assert.True(t, ctx.HasCrop("cotton"))
	assert.False(t, ctx.HasCrop("rice"))
}

// =============================================================================
// Recommendation Tests
// =============================================================================

func TestCategory_Valid(t *testing.T) {
	assert.True(t, CategoryIrrigation.Valid())
	assert.True(t, CategoryGeneral.Valid())
	assert.False(t, Category("volcano").Valid())
	assert.False(t, Category("").Valid())
}

func TestLocalizedText(t *testing.T) {
	tests := []struct {
		text LocalizedText
		want string
		zero bool
	}{
		{LocalizedText{Az: "Suvarın", En: "Irrigate"}, "Suvarın\nIrrigate", false},
		{LocalizedText{En: "Irrigate"}, "Irrigate", false},
		{LocalizedText{Az: "Suvarın"}, "Suvarın", false},
		{LocalizedText{}, "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.text.Joined())
		assert.Equal(t, tt.zero, tt.text.IsZero())
	}
}

func TestRecommendation_CloneAndLookup(t *testing.T) {
	deadline := july15.Add(48 * time.Hour)
	rec := Recommendation{
		ID:         "rec-1",
		Category:   CategoryIrrigation,
		Priority:   PriorityHigh,
		Confidence: 0.8,
		Source:     SourceRuleBased,
		RuleID:     "IRR_001",
		Deadline:   &deadline,
		GuardFlags: []string{"GUARD_RAIN_FORECAST"},
	}

	clone := rec.Clone()
	clone.GuardFlags[0] = "changed"
	*clone.Deadline = july15
	assert.Equal(t, "GUARD_RAIN_FORECAST", rec.GuardFlags[0])
	assert.Equal(t, deadline, *rec.Deadline)

	assert.True(t, rec.HasGuardFlag("GUARD_RAIN_FORECAST"))
	assert.False(t, rec.HasGuardFlag("GUARD_FROST"))

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"recommendation.category", "irrigation", true},
		{"recommendation.priority", "high", true},
		{"recommendation.source", "rule_based", true},
		{"recommendation.rule_id", "IRR_001", true},
		{"recommendation.confidence", 0.8, true},
		{"recommendation.title", nil, false},
	}
	for _, tt := range tests {
		got, ok := rec.Lookup(tt.path)
		assert.Equal(t, tt.wantOK, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

// =============================================================================
// Request Tests
// =============================================================================

func TestRecommendationRequest_Validate(t *testing.T) {
	valid := func() RecommendationRequest {
		return RecommendationRequest{
			Identifiers: RawIdentifiers{FarmerID: "farmer-17", FarmID: "farm-42"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *RecommendationRequest)
		wantErr bool
	}{
		{"minimal", func(r *RecommendationRequest) {}, false},
		{"uuid request id", func(r *RecommendationRequest) { r.RequestID = uuid.NewString() }, false},
		{"bad request id", func(r *RecommendationRequest) { r.RequestID = "req-1" }, true},
		{"missing farmer", func(r *RecommendationRequest) { r.Identifiers.FarmerID = "" }, true},
		{"missing farm", func(r *RecommendationRequest) { r.Identifiers.FarmID = "" }, true},
		{"bad email", func(r *RecommendationRequest) { r.Identifiers.Email = "not-an-email" }, true},
		{"good email", func(r *RecommendationRequest) { r.Identifiers.Email = "aysel@example.az" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecommendationRequest_EnsureDefaults(t *testing.T) {
	req := RecommendationRequest{}
	req.EnsureDefaults()
	_, err := uuid.Parse(req.RequestID)
	require.NoError(t, err)

	req.RequestID = "11111111-2222-3333-4444-555555555555"
	req.EnsureDefaults()
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", req.RequestID)
}
