// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rulebook

import (
	"testing"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testContext() datatypes.FarmContext {
	return datatypes.NewFarmContext(datatypes.FarmContext{
		Farm: datatypes.FarmInfo{
			Type:      "crop",
			Crops:     []string{"wheat", "cotton"},
			Livestock: []string{"sheep"},
			Region:    "Aran",
		},
		Soil: &datatypes.SoilReadings{
			MoisturePct: datatypes.Float(12),
			PH:          datatypes.Float(6.5),
		},
		Weather: &datatypes.WeatherReadings{
			TemperatureMax:        datatypes.Float(28),
			PrecipitationExpected: datatypes.Bool(false),
		},
		Temporal: datatypes.TemporalInfo{
			CropStage: "vegetative",
		},
		User: datatypes.UserQuery{Query: "Pomidor yarpaqları saralır"},
	}, time.Date(2025, time.May, 10, 8, 0, 0, 0, time.UTC))
}

func TestEvaluate(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"lt numeric", Condition{"soil.moisture", OpLess, 30}, true},
		{"lt boundary", Condition{"soil.moisture", OpLess, 12}, false},
		{"lte boundary", Condition{"soil.moisture", OpLessEqual, 12}, true},
		{"gt float operand", Condition{"soil.ph", OpGreater, 6.4}, true},
		{"gte int operand", Condition{"weather.temperature_max", OpGreaterEqual, 28}, true},
		{"eq coerces int to float", Condition{"temporal.month", OpEquals, 5}, true},
		{"eq bool", Condition{"weather.precipitation_expected", OpEquals, false}, true},
		{"ne bool", Condition{"weather.precipitation_expected", OpNotEquals, true}, true},
		{"ne kind mismatch", Condition{"weather.precipitation_expected", OpNotEquals, "yes"}, false},
		{"between inclusive low", Condition{"soil.moisture", OpBetween, []any{12, 20}}, true},
		{"between inclusive high", Condition{"soil.moisture", OpBetween, []any{5, 12}}, true},
		{"between outside", Condition{"soil.moisture", OpBetween, []any{13, 20}}, false},
		{"between malformed", Condition{"soil.moisture", OpBetween, []any{12}}, false},
		{"in strings", Condition{"temporal.season", OpIn, []any{"spring", "summer"}}, true},
		{"not_in strings", Condition{"temporal.season", OpNotIn, []any{"winter"}}, true},
		{"in numbers", Condition{"temporal.month", OpIn, []any{4, 5, 6}}, true},
		{"contains case-sensitive hit", Condition{"user.query", OpContains, "yarpaq"}, true},
		{"contains case-sensitive miss", Condition{"user.query", OpContains, "Yarpaq"}, false},
		{"list eq any element", Condition{"farm.crops", OpEquals, "cotton"}, true},
		{"list in", Condition{"farm.crops", OpIn, []any{"corn", "wheat"}}, true},
		{"list ne any element matches", Condition{"farm.crops", OpNotEquals, "wheat"}, false},
		{"list not_in none match", Condition{"farm.crops", OpNotIn, []any{"corn", "rice"}}, true},
		{"missing section", Condition{"weather.humidity", OpGreater, 10}, false},
		{"unknown path", Condition{"farm.owner", OpEquals, "x"}, false},
		{"type mismatch", Condition{"farm.type", OpGreater, 5}, false},
		{"numeric operand as string", Condition{"soil.moisture", OpLess, "30"}, false},
		{"nil operand", Condition{"soil.moisture", OpEquals, nil}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.cond, ctx))
		})
	}
}

func TestEvaluate_NilLookuper(t *testing.T) {
	assert.False(t, Evaluate(Condition{"soil.moisture", OpLess, 30}, nil))
}

func TestEvaluate_IrrelevantKeysDoNotChangeResult(t *testing.T) {
	base := testContext()
	extended := base
	extended.Extra = map[string]any{"unrelated": 99, "note": "irrelevant"}

	conds := []Condition{
		{"soil.moisture", OpLess, 30},
		{"farm.crops", OpIn, []any{"wheat"}},
		{"weather.humidity", OpGreater, 50},
		{"extra.unrelated", OpEquals, 99},
	}
	for _, c := range conds[:3] {
		assert.Equal(t, Evaluate(c, base), Evaluate(c, extended), c.String())
	}
	assert.False(t, Evaluate(conds[3], base))
	assert.True(t, Evaluate(conds[3], extended))
}

func TestEvaluateAll(t *testing.T) {
	ctx := testContext()
	assert.False(t, EvaluateAll(nil, ctx), "empty condition list must not trigger")
	assert.True(t, EvaluateAll([]Condition{
		{"soil.moisture", OpLess, 30},
		{"weather.precipitation_expected", OpEquals, false},
	}, ctx))
	assert.False(t, EvaluateAll([]Condition{
		{"soil.moisture", OpLess, 30},
		{"weather.humidity", OpGreater, 10},
	}, ctx))
}

func TestConditionCheck(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid lt", Condition{"soil.moisture", OpLess, 30}, false},
		{"valid between", Condition{"soil.moisture", OpBetween, []any{10, 20}}, false},
		{"inverted between", Condition{"soil.moisture", OpBetween, []any{20, 10}}, true},
		{"lt with string", Condition{"soil.moisture", OpLess, "low"}, true},
		{"in with scalar", Condition{"temporal.season", OpIn, "spring"}, true},
		{"contains with number", Condition{"user.query", OpContains, 3}, true},
		{"eq without operand", Condition{"farm.type", OpEquals, nil}, true},
		{"empty field", Condition{"", OpEquals, 1}, true},
		{"unknown operator", Condition{"farm.type", Operator("matches"), "x"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cond.Check()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOperator_UnmarshalYAML(t *testing.T) {
	var c Condition
	require.NoError(t, yaml.Unmarshal([]byte("field: soil.ph\noperator: GTE\nvalue: 5\n"), &c))
	assert.Equal(t, OpGreaterEqual, c.Operator)

	err := yaml.Unmarshal([]byte("field: soil.ph\noperator: regex\nvalue: x\n"), &c)
	assert.Error(t, err)
}
