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
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// Rule is a deterministic, pre-authored domain rule.
//
// # Description
//
// A rule triggers when every one of its Conditions holds (logical AND). The
// applicability filters narrow which farms the rule is considered for at all;
// an empty filter matches everything. Rules are immutable once loaded into a
// Rulebook.
//
// # Fields
//
//   - ID: Unique identifier, e.g. "IRR_001".
//   - Category: Agronomic area of the recommendation.
//   - Conditions: AND-combined predicates; at least one is required.
//   - Crops, FarmTypes, Seasons, Regions: Applicability filters.
//   - Title, Recommendation: Localized text of the resulting recommendation.
//   - Weight: Fixed confidence weight in [0,1].
//   - PreApproved: Set only after expert sign-off; enables automatic delivery.
//   - SuggestedTime, DeadlineDays: Optional scheduling hints.
//   - References: Citation catalog ids backing the rule.
type Rule struct {
	ID             string                  `yaml:"id" json:"id" validate:"required,max=64"`
	Category       datatypes.Category      `yaml:"category" json:"category" validate:"required"`
	Priority       datatypes.Priority      `yaml:"priority" json:"priority" validate:"omitempty,oneof=critical high medium low"`
	Description    string                  `yaml:"description" json:"description,omitempty"`
	Conditions     []Condition             `yaml:"conditions" json:"conditions" validate:"required,min=1,dive"`
	Crops          []string                `yaml:"crops" json:"crops,omitempty"`
	FarmTypes      []string                `yaml:"farm_types" json:"farm_types,omitempty"`
	Seasons        []string                `yaml:"seasons" json:"seasons,omitempty"`
	Regions        []string                `yaml:"regions" json:"regions,omitempty"`
	Title          datatypes.LocalizedText `yaml:"title" json:"title"`
	Recommendation datatypes.LocalizedText `yaml:"recommendation" json:"recommendation"`
	Weight         float64                 `yaml:"weight" json:"weight" validate:"gte=0,lte=1"`
	PreApproved    bool                    `yaml:"pre_approved" json:"pre_approved"`
	SuggestedTime  string                  `yaml:"suggested_time" json:"suggested_time,omitempty"`
	DeadlineDays   int                     `yaml:"deadline_days" json:"deadline_days,omitempty" validate:"gte=0"`
	References     []string                `yaml:"references" json:"references,omitempty"`
}

// Triggers reports whether every condition holds on ctx. A rule without
// conditions never triggers.
func (r Rule) Triggers(ctx datatypes.Lookuper) bool {
	return EvaluateAll(r.Conditions, ctx)
}

// AppliesTo checks the crop, farm-type, season and region filters.
func (r Rule) AppliesTo(ctx datatypes.FarmContext) bool {
	if len(r.Crops) > 0 && !anyFold(r.Crops, ctx.Farm.Crops...) {
		return false
	}
	if len(r.FarmTypes) > 0 && !anyFold(r.FarmTypes, ctx.Farm.Type) {
		return false
	}
	if len(r.Seasons) > 0 && !anyFold(r.Seasons, ctx.Temporal.Season) {
		return false
	}
	if len(r.Regions) > 0 && !anyFold(r.Regions, ctx.Farm.Region) {
		return false
	}
	return true
}

// keywordStopWords are words common to rules of unrelated categories. They
// carry no topical signal and never count as keywords.
var keywordStopWords = map[string]bool{
	// Azerbaijani
	"torpaq": true, "torpağa": true, "torpağı": true, "torpağın": true,
	"aparın": true, "edin": true, "əlavə": true, "yoxlayın": true,
	"növbəti": true, "yüksək": true, "aşağı": true, "aşağıdır": true,
	"yüksəkdir": true, "riski": true, "göstəricisi": true, "saat": true,
	"ərzində": true, "səviyyəsi": true,
	// English
	"above": true, "below": true, "apply": true, "check": true,
	"hours": true, "level": true, "levels": true, "within": true,
	"should": true, "there": true, "their": true, "about": true,
	"consider": true,
}

// Keywords returns the lowercased words of the rule's localized text that are
// longer than minRunes runes, de-duplicated and in first-seen order. Stop-words
// shared across categories are skipped.
func (r Rule) Keywords(minRunes int) []string {
	seen := make(map[string]bool)
	var out []string
	text := strings.Join([]string{r.Recommendation.Az, r.Recommendation.En, r.Title.Az, r.Title.En}, " ")
	for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if len([]rune(word)) <= minRunes || seen[word] || keywordStopWords[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
	}
	return out
}

// ToRecommendation materializes a triggered rule as a rule-based
// recommendation for ctx.
func (r Rule) ToRecommendation(ctx datatypes.FarmContext) datatypes.Recommendation {
	priority := r.Priority
	if priority == "" {
		priority = datatypes.PriorityMedium
	}
	rec := datatypes.Recommendation{
		ID:            uuid.NewString(),
		Category:      r.Category,
		Priority:      priority,
		Confidence:    r.Weight,
		Title:         r.Title,
		Description:   r.Recommendation,
		Source:        datatypes.SourceRuleBased,
		RuleID:        r.ID,
		SuggestedTime: r.SuggestedTime,
	}
	if r.DeadlineDays > 0 {
		base := ctx.Temporal.Date
		if base.IsZero() {
			base = time.Now().UTC()
		}
		d := base.AddDate(0, 0, r.DeadlineDays)
		rec.Deadline = &d
	}
	return rec
}

// clone deep-copies a rule so the Rulebook never shares slices with callers.
func (r Rule) clone() Rule {
	out := r
	out.Conditions = make([]Condition, len(r.Conditions))
	copy(out.Conditions, r.Conditions)
	out.Crops = cloneStrings(r.Crops)
	out.FarmTypes = cloneStrings(r.FarmTypes)
	out.Seasons = cloneStrings(r.Seasons)
	out.Regions = cloneStrings(r.Regions)
	out.References = cloneStrings(r.References)
	return out
}

func anyFold(allowed []string, values ...string) bool {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, a := range allowed {
			if strings.EqualFold(a, v) {
				return true
			}
		}
	}
	return false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
