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
	"strings"
	"time"
)

// =============================================================================
// Lookup Contract
// =============================================================================

// Lookuper resolves a dotted field path to a value.
//
// # Description
//
// Lookuper is the only way the rule-condition evaluator reads data. Values are
// returned as one of: float64, bool, string, []string. A path that is unknown
// or whose value is unset returns (nil, false); callers must treat that as
// "no data" rather than as an error.
//
// # Thread Safety
//
// Implementations must be safe for concurrent reads.
type Lookuper interface {
	Lookup(path string) (any, bool)
}

// =============================================================================
// Farm Context
// =============================================================================

// FarmInfo describes the farm the request is about.
type FarmInfo struct {
	Type         string   `json:"type,omitempty" yaml:"type"`
	Crops        []string `json:"crops,omitempty" yaml:"crops"`
	Livestock    []string `json:"livestock,omitempty" yaml:"livestock"`
	Region       string   `json:"region,omitempty" yaml:"region"`
	AreaHectares *float64 `json:"area_hectares,omitempty" yaml:"area_hectares"`
}

// SoilReadings holds the latest soil sensor readings. Nil fields are unknown.
type SoilReadings struct {
	MoisturePct *float64 `json:"moisture_pct,omitempty" yaml:"moisture_pct"`
	PH          *float64 `json:"ph,omitempty" yaml:"ph"`
	Nitrogen    *float64 `json:"nitrogen,omitempty" yaml:"nitrogen"`
	Phosphorus  *float64 `json:"phosphorus,omitempty" yaml:"phosphorus"`
	Potassium   *float64 `json:"potassium,omitempty" yaml:"potassium"`
}

// WeatherReadings holds current conditions plus the short-range forecast.
type WeatherReadings struct {
	TemperatureMin        *float64 `json:"temperature_min,omitempty" yaml:"temperature_min"`
	TemperatureMax        *float64 `json:"temperature_max,omitempty" yaml:"temperature_max"`
	HumidityPct           *float64 `json:"humidity_pct,omitempty" yaml:"humidity_pct"`
	PrecipitationExpected *bool    `json:"precipitation_expected,omitempty" yaml:"precipitation_expected"`
	PrecipitationMM       *float64 `json:"precipitation_mm,omitempty" yaml:"precipitation_mm"`
	WindSpeedMS           *float64 `json:"wind_speed_ms,omitempty" yaml:"wind_speed_ms"`
}

// TemporalInfo carries season and crop-calendar markers.
type TemporalInfo struct {
	Season        string    `json:"season,omitempty" yaml:"season"`
	Month         int       `json:"month,omitempty" yaml:"month"`
	CropStage     string    `json:"crop_stage,omitempty" yaml:"crop_stage"`
	DaysToHarvest *int      `json:"days_to_harvest,omitempty" yaml:"days_to_harvest"`
	Date          time.Time `json:"date,omitempty" yaml:"date"`
}

// UserQuery is the (already sanitized) free-text question.
type UserQuery struct {
	Query    string `json:"query,omitempty" yaml:"query"`
	Language string `json:"language,omitempty" yaml:"language"`
}

// FarmContext is the per-request snapshot every pipeline stage reads from.
//
// # Description
//
// FarmContext is built once per request by NewFarmContext and is never
// mutated afterwards. Every domain area is optional: a nil Soil or Weather
// simply makes conditions on those paths evaluate false.
//
// # Fields
//
//   - Farm: farm type, crops, livestock, region
//   - Soil: moisture %, pH, N/P/K
//   - Weather: temperature range, humidity, precipitation, wind
//   - Temporal: season, month, crop stage, days to harvest, reference date
//   - User: sanitized free-text query
//   - Extra: additional scalar signals reachable as "extra.<key>"
//
// # Thread Safety
//
// Safe for concurrent reads. Do not modify a FarmContext after construction;
// use NewFarmContext to derive a changed copy.
type FarmContext struct {
	Farm     FarmInfo         `json:"farm" yaml:"farm"`
	Soil     *SoilReadings    `json:"soil,omitempty" yaml:"soil"`
	Weather  *WeatherReadings `json:"weather,omitempty" yaml:"weather"`
	Temporal TemporalInfo     `json:"temporal" yaml:"temporal"`
	User     UserQuery        `json:"user" yaml:"user"`
	Extra    map[string]any   `json:"extra,omitempty" yaml:"extra"`
}

// NewFarmContext returns a deep copy of src with a reference date filled in.
//
// # Description
//
// All slices, maps and pointer fields are copied so the caller can reuse or
// modify src afterwards without affecting the returned context. If
// Temporal.Date is zero it is set to now (UTC). Temporal.Month and
// Temporal.Season are derived from it when unset.
//
// # Inputs
//
//   - src: Caller-provided context values.
//   - now: Reference time used when src carries no date.
//
// # Outputs
//
//   - FarmContext: An independent snapshot safe to share across goroutines.
func NewFarmContext(src FarmContext, now time.Time) FarmContext {
	out := FarmContext{
		Farm: FarmInfo{
			Type:         src.Farm.Type,
			Crops:        cloneStrings(src.Farm.Crops),
			Livestock:    cloneStrings(src.Farm.Livestock),
			Region:       src.Farm.Region,
			AreaHectares: cloneFloat(src.Farm.AreaHectares),
		},
		Temporal: src.Temporal,
		User:     src.User,
	}
	if src.Soil != nil {
		out.Soil = &SoilReadings{
			MoisturePct: cloneFloat(src.Soil.MoisturePct),
			PH:          cloneFloat(src.Soil.PH),
			Nitrogen:    cloneFloat(src.Soil.Nitrogen),
			Phosphorus:  cloneFloat(src.Soil.Phosphorus),
			Potassium:   cloneFloat(src.Soil.Potassium),
		}
	}
	if src.Weather != nil {
		out.Weather = &WeatherReadings{
			TemperatureMin:  cloneFloat(src.Weather.TemperatureMin),
			TemperatureMax:  cloneFloat(src.Weather.TemperatureMax),
			HumidityPct:     cloneFloat(src.Weather.HumidityPct),
			PrecipitationMM: cloneFloat(src.Weather.PrecipitationMM),
			WindSpeedMS:     cloneFloat(src.Weather.WindSpeedMS),
		}
		if src.Weather.PrecipitationExpected != nil {
			v := *src.Weather.PrecipitationExpected
			out.Weather.PrecipitationExpected = &v
		}
	}
	if src.Temporal.DaysToHarvest != nil {
		v := *src.Temporal.DaysToHarvest
		out.Temporal.DaysToHarvest = &v
	}
	if out.Temporal.Date.IsZero() {
		out.Temporal.Date = now.UTC()
	}
	if out.Temporal.Month == 0 {
		out.Temporal.Month = int(out.Temporal.Date.Month())
	}
	if out.Temporal.Season == "" {
		out.Temporal.Season = SeasonForMonth(out.Temporal.Month)
	}
	if len(src.Extra) > 0 {
		out.Extra = make(map[string]any, len(src.Extra))
		for k, v := range src.Extra {
			if s, ok := v.([]string); ok {
				v = cloneStrings(s)
			}
			out.Extra[k] = v
		}
	}
	return out
}

// SeasonForMonth maps a calendar month to a meteorological season label for
// the northern hemisphere. Months outside 1..12 yield "".
func SeasonForMonth(month int) string {
	switch month {
	case 12, 1, 2:
		return "winter"
	case 3, 4, 5:
		return "spring"
	case 6, 7, 8:
		return "summer"
	case 9, 10, 11:
		return "autumn"
	}
	return ""
}

// WithQuery returns a copy of c whose user query is replaced.
func (c FarmContext) WithQuery(query string) FarmContext {
	out := NewFarmContext(c, c.Temporal.Date)
	out.User.Query = query
	return out
}

// Lookup resolves a dotted path against the context.
//
// # Description
//
// Supported paths are listed in the switch below plus "extra.<key>". Numeric
// values are returned as float64, flags as bool, lists as []string. The
// lookup is an explicit table, no reflection is involved.
//
// # Inputs
//
//   - path: Dotted field path, e.g. "soil.moisture".
//
// # Outputs
//
//   - any: The value, or nil when absent.
//   - bool: False when the path is unknown or the value is unset.
func (c FarmContext) Lookup(path string) (any, bool) {
	if key, ok := strings.CutPrefix(path, "extra."); ok {
		v, found := c.Extra[key]
		if !found || v == nil {
			return nil, false
		}
		return normalizeValue(v)
	}

	switch path {
	case "farm.type":
		return nonEmpty(c.Farm.Type)
	case "farm.crops":
		return nonEmptyList(c.Farm.Crops)
	case "farm.livestock":
		return nonEmptyList(c.Farm.Livestock)
	case "farm.region":
		return nonEmpty(c.Farm.Region)
	case "farm.area_hectares":
		return deref(c.Farm.AreaHectares)
	case "temporal.season":
		return nonEmpty(c.Temporal.Season)
	case "temporal.month":
		if c.Temporal.Month == 0 {
			return nil, false
		}
		return float64(c.Temporal.Month), true
	case "temporal.crop_stage":
		return nonEmpty(c.Temporal.CropStage)
	case "temporal.days_to_harvest":
		if c.Temporal.DaysToHarvest == nil {
			return nil, false
		}
		return float64(*c.Temporal.DaysToHarvest), true
	case "user.query":
		return nonEmpty(c.User.Query)
	case "user.language":
		return nonEmpty(c.User.Language)
	}

	if soil, ok := strings.CutPrefix(path, "soil."); ok {
		if c.Soil == nil {
			return nil, false
		}
		switch soil {
		case "moisture":
			return deref(c.Soil.MoisturePct)
		case "ph":
			return deref(c.Soil.PH)
		case "nitrogen":
			return deref(c.Soil.Nitrogen)
		case "phosphorus":
			return deref(c.Soil.Phosphorus)
		case "potassium":
			return deref(c.Soil.Potassium)
		}
		return nil, false
	}

	if weather, ok := strings.CutPrefix(path, "weather."); ok {
		if c.Weather == nil {
			return nil, false
		}
		switch weather {
		case "temperature_min":
			return deref(c.Weather.TemperatureMin)
		case "temperature_max":
			return deref(c.Weather.TemperatureMax)
		case "humidity":
			return deref(c.Weather.HumidityPct)
		case "precipitation_expected":
			if c.Weather.PrecipitationExpected == nil {
				return nil, false
			}
			return *c.Weather.PrecipitationExpected, true
		case "precipitation_mm":
			return deref(c.Weather.PrecipitationMM)
		case "wind_speed":
			return deref(c.Weather.WindSpeedMS)
		}
	}
	return nil, false
}

// HasCrop reports whether the farm grows crop (case-insensitive).
func (c FarmContext) HasCrop(crop string) bool {
	for _, have := range c.Farm.Crops {
		if strings.EqualFold(have, crop) {
			return true
		}
	}
	return false
}

// =============================================================================
// Helpers
// =============================================================================

func nonEmpty(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func nonEmptyList(s []string) (any, bool) {
	if len(s) == 0 {
		return nil, false
	}
	return s, true
}

func deref(f *float64) (any, bool) {
	if f == nil {
		return nil, false
	}
	return *f, true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// normalizeValue maps extra values onto the Lookuper value set.
func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case float64, bool, string, []string:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Float is a convenience constructor for optional numeric readings.
func Float(v float64) *float64 { return &v }

// Bool is a convenience constructor for optional flags.
func Bool(v bool) *bool { return &v }

// Int is a convenience constructor for optional integer markers.
func Int(v int) *int { return &v }
