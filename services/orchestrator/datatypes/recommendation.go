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

// Category is the agronomic area a rule or recommendation belongs to.
type Category string

const (
	CategoryIrrigation    Category = "irrigation"
	CategoryFertilization Category = "fertilization"
	CategoryPest          Category = "pest"
	CategoryPesticide     Category = "pesticide"
	CategoryChemical      Category = "chemical"
	CategoryDisease       Category = "disease"
	CategoryHarvest       Category = "harvest"
	CategoryPlanting      Category = "planting"
	CategoryLivestock     Category = "livestock"
	CategorySoil          Category = "soil"
	CategoryWeather       Category = "weather"
	CategoryEmergency     Category = "emergency"
	CategoryGeneral       Category = "general"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryIrrigation, CategoryFertilization, CategoryPest, CategoryPesticide,
		CategoryChemical, CategoryDisease, CategoryHarvest, CategoryPlanting,
		CategoryLivestock, CategorySoil, CategoryWeather, CategoryEmergency,
		CategoryGeneral:
		return true
	}
	return false
}

// Source tags where a recommendation came from.
type Source string

const (
	SourceRuleBased      Source = "rule_based"
	SourceModelGenerated Source = "model_generated"
	SourceHybrid         Source = "hybrid"
)

// Priority is the urgency the author attached to a recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// LocalizedText is the Azerbaijani / English text pair carried by rules and
// recommendations.
type LocalizedText struct {
	Az string `json:"az" yaml:"az"`
	En string `json:"en" yaml:"en"`
}

// Joined returns both variants separated by a newline, skipping empty ones.
func (t LocalizedText) Joined() string {
	switch {
	case t.Az == "":
		return t.En
	case t.En == "":
		return t.Az
	}
	return t.Az + "\n" + t.En
}

// IsZero reports whether both variants are empty.
func (t LocalizedText) IsZero() bool {
	return t.Az == "" && t.En == ""
}

// Recommendation is a single actionable suggestion flowing through the
// pipeline.
//
// # Description
//
// Recommendations are treated as values: every stage that changes one returns
// an edited copy (see Clone). ID and RuleID form the recommendation's
// identity and lineage and are never rewritten after creation.
//
// # Fields
//
//   - ID: Unique per request (UUID).
//   - Category: Agronomic area; drives guard rules and routing.
//   - Priority: Author urgency.
//   - Confidence: Raw confidence in [0,1]; replaced by the trust score later.
//   - Title, Description: Localized text pair.
//   - Source: rule_based, model_generated or hybrid.
//   - RuleID: Originating or supporting rule, empty for pure model output.
//   - SuggestedTime: Optional human-readable time window.
//   - Deadline: Optional date by which to act.
//   - GuardFlags: Ids of Logic Guard rules already applied to this copy.
type Recommendation struct {
	ID            string        `json:"id"`
	Category      Category      `json:"category"`
	Priority      Priority      `json:"priority"`
	Confidence    float64       `json:"confidence"`
	Title         LocalizedText `json:"title"`
	Description   LocalizedText `json:"description"`
	Source        Source        `json:"source"`
	RuleID        string        `json:"rule_id,omitempty"`
	SuggestedTime string        `json:"suggested_time,omitempty"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
	GuardFlags    []string      `json:"guard_flags,omitempty"`
}

// Clone returns a deep copy of r.
func (r Recommendation) Clone() Recommendation {
	out := r
	if r.Deadline != nil {
		d := *r.Deadline
		out.Deadline = &d
	}
	out.GuardFlags = cloneStrings(r.GuardFlags)
	return out
}

// Text returns all localized title and description text for keyword matching.
func (r Recommendation) Text() string {
	return strings.Join([]string{r.Title.Az, r.Title.En, r.Description.Az, r.Description.En}, "\n")
}

// HasGuardFlag reports whether the guard rule id was already applied.
func (r Recommendation) HasGuardFlag(id string) bool {
	for _, f := range r.GuardFlags {
		if f == id {
			return true
		}
	}
	return false
}

// Lookup exposes recommendation fields under the "recommendation." prefix so
// guard conditions can reference them.
func (r Recommendation) Lookup(path string) (any, bool) {
	switch path {
	case "recommendation.category":
		return nonEmpty(string(r.Category))
	case "recommendation.priority":
		return nonEmpty(string(r.Priority))
	case "recommendation.source":
		return nonEmpty(string(r.Source))
	case "recommendation.rule_id":
		return nonEmpty(r.RuleID)
	case "recommendation.confidence":
		return r.Confidence, true
	}
	return nil, false
}
