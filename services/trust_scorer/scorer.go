// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trust_scorer combines rule support, source reliability, review
// status and temporal/regional fit into one auditable confidence number.
package trust_scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
)

// =============================================================================
// Weights and Levels
// =============================================================================

// Sub-score weights. They sum to 1.
const (
	WeightRuleMatch         = 0.30
	WeightSourceQuality     = 0.25
	WeightExpertValidation  = 0.20
	WeightTemporalRelevance = 0.15
	WeightRegionalRelevance = 0.10
)

// Relevance heuristics for temporal and regional fit.
const (
	RelevanceMatch        = 1.0
	RelevanceUnrestricted = 0.9
	RelevanceUnknown      = 0.7
	RelevanceMismatch     = 0.5
)

// LowConfidenceThreshold is the overall score below which a warning is
// emitted.
const LowConfidenceThreshold = 0.6

// Level buckets the overall score.
type Level string

const (
	LevelVeryHigh     Level = "very_high"
	LevelHigh         Level = "high"
	LevelModerate     Level = "moderate"
	LevelLow          Level = "low"
	LevelExperimental Level = "experimental"
)

// LevelFor maps an overall score to its bucket.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.90:
		return LevelVeryHigh
	case score >= 0.75:
		return LevelHigh
	case score >= 0.60:
		return LevelModerate
	case score >= 0.40:
		return LevelLow
	default:
		return LevelExperimental
	}
}

// Breakdown holds the five sub-scores, each in [0,1].
type Breakdown struct {
	RuleMatch         float64 `json:"rule_match"`
	SourceQuality     float64 `json:"source_quality"`
	ExpertValidation  float64 `json:"expert_validation"`
	TemporalRelevance float64 `json:"temporal_relevance"`
	RegionalRelevance float64 `json:"regional_relevance"`
}

// Overall returns the fixed-weight sum, clamped to [0,1].
func (b Breakdown) Overall() float64 {
	sum := b.RuleMatch*WeightRuleMatch +
		b.SourceQuality*WeightSourceQuality +
		b.ExpertValidation*WeightExpertValidation +
		b.TemporalRelevance*WeightTemporalRelevance +
		b.RegionalRelevance*WeightRegionalRelevance
	return clamp01(sum)
}

// =============================================================================
// Scorer
// =============================================================================

// Input carries everything the scorer needs for one recommendation.
//
// # Fields
//
//   - RuleIDs: Supporting rule ids from the rule-validator.
//   - Citations: Extra citations supplied by the caller.
//   - ExpertValidated: An expert has approved the recommendation.
//   - Region, Season: The farm's region and current season.
//   - RawConfidence: Confidence before scoring (the validator score).
//   - Category: Drives category-specific safety caveats.
type Input struct {
	RuleIDs         []string
	Citations       []datatypes.Citation
	ExpertValidated bool
	Region          string
	Season          string
	RawConfidence   float64
	Category        datatypes.Category
}

// TrustScore is the scorer's output.
type TrustScore struct {
	Overall   float64              `json:"overall"`
	Level     Level                `json:"level"`
	Breakdown Breakdown            `json:"breakdown"`
	Citations []datatypes.Citation `json:"citations"`
	Warnings  []string             `json:"warnings,omitempty"`
	Caveats   []string             `json:"caveats,omitempty"`
}

// Scorer computes trust scores.
//
// # Description
//
// Warnings and caveats are advisory text; the scorer never blocks a
// recommendation.
//
// # Thread Safety
//
// Stateless apart from its read-only sources; safe for concurrent use.
type Scorer struct {
	rules   rulebook.Source
	catalog *Catalog
}

// New creates a scorer. catalog may be nil when no citation catalog is
// available.
func New(rules rulebook.Source, catalog *Catalog) *Scorer {
	if catalog == nil {
		catalog = &Catalog{byID: map[string]datatypes.Citation{}}
	}
	return &Scorer{rules: rules, catalog: catalog}
}

// Score computes the trust score for one recommendation.
//
// # Description
//
// Sub-scores:
//   - rule match: 0.95 for two or more rules, 0.80 for one, otherwise
//     0.6 * RawConfidence.
//   - source quality: mean reliability of all citations, 0.5 without any.
//     Every supporting rule contributes its referenced catalog citations
//     and a citation of type rule.
//   - expert validation: 1.0 when approved by an expert (a pre-approved
//     rule counts as prior sign-off), 0.7 when rule-backed, otherwise 0.4.
//   - temporal / regional relevance: 1.0 explicit match, 0.9 unrestricted
//     with a known value, 0.7 unknown value, 0.5 mismatch.
//
// # Inputs
//
//   - in: The scoring input.
//
// # Outputs
//
//   - TrustScore: Overall in [0,1], level, breakdown, citations, warnings
//     and caveats.
func (s *Scorer) Score(in Input) TrustScore {
	rb := s.rules.Current()
	var rules []rulebook.Rule
	seen := make(map[string]bool)
	for _, id := range in.RuleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := rb.Get(id); ok {
			rules = append(rules, r)
		}
	}

	var b Breakdown
	var out TrustScore

	switch {
	case len(rules) >= 2:
		b.RuleMatch = 0.95
	case len(rules) == 1:
		b.RuleMatch = 0.80
	default:
		b.RuleMatch = 0.6 * clamp01(in.RawConfidence)
	}

	out.Citations = s.collectCitations(in.Citations, rules)
	b.SourceQuality = 0.5
	if len(out.Citations) > 0 {
		total := 0.0
		for _, c := range out.Citations {
			total += c.Reliability
		}
		b.SourceQuality = clamp01(total / float64(len(out.Citations)))
	}

	preApproved := false
	for _, r := range rules {
		if r.PreApproved {
			preApproved = true
			break
		}
	}
	switch {
	case in.ExpertValidated || preApproved:
		b.ExpertValidation = 1.0
	case len(rules) > 0:
		b.ExpertValidation = 0.7
	default:
		b.ExpertValidation = 0.4
	}

	var caveat string
	b.TemporalRelevance, caveat = relevance(in.Season, rules, func(r rulebook.Rule) []string { return r.Seasons }, nil)
	if caveat != "" {
		out.Caveats = append(out.Caveats, fmt.Sprintf("Seasonal mismatch: supporting rules target %s, current season is %s", caveat, in.Season))
	}
	b.RegionalRelevance, caveat = relevance(in.Region, rules, func(r rulebook.Rule) []string { return r.Regions }, out.Citations)
	if caveat != "" {
		out.Caveats = append(out.Caveats, fmt.Sprintf("Regional mismatch: supporting rules target %s, farm region is %s", caveat, in.Region))
	}

	out.Breakdown = b
	out.Overall = b.Overall()
	out.Level = LevelFor(out.Overall)

	if out.Overall < LowConfidenceThreshold {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"Low confidence (%.2f): verify with a local agronomist before acting", out.Overall))
	}
	if len(rules) == 0 {
		out.Warnings = append(out.Warnings, "Not backed by any rulebook rule")
	}
	if c := safetyCaveat(in.Category); c != "" {
		out.Caveats = append(out.Caveats, c)
	}
	return out
}

// collectCitations merges caller citations with the citations of every
// supporting rule, de-duplicated by id in first-seen order.
func (s *Scorer) collectCitations(extra []datatypes.Citation, rules []rulebook.Rule) []datatypes.Citation {
	seen := make(map[string]bool)
	var out []datatypes.Citation
	add := func(c datatypes.Citation) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	for _, c := range extra {
		add(c)
	}
	for _, r := range rules {
		reliability := 0.8
		if r.PreApproved {
			reliability = 0.9
		}
		title := r.Title.En
		if title == "" {
			title = r.Description
		}
		add(datatypes.Citation{
			ID:          "rule:" + r.ID,
			Type:        datatypes.CitationRule,
			Title:       title,
			Source:      "Sidecar rulebook",
			Reliability: reliability,
		})
		for _, c := range s.catalog.Resolve(r.References) {
			add(c)
		}
	}
	return out
}

// relevance applies the fixed temporal/regional heuristic. It returns the
// joined targets as the second value on a mismatch.
func relevance(actual string, rules []rulebook.Rule, targets func(rulebook.Rule) []string, citations []datatypes.Citation) (float64, string) {
	if actual == "" {
		return RelevanceUnknown, ""
	}
	var all []string
	for _, r := range rules {
		for _, t := range targets(r) {
			if strings.EqualFold(t, actual) {
				return RelevanceMatch, ""
			}
			all = append(all, t)
		}
	}
	for _, c := range citations {
		if c.Region != "" && strings.EqualFold(c.Region, actual) {
			return RelevanceMatch, ""
		}
	}
	if len(all) == 0 {
		return RelevanceUnrestricted, ""
	}
	return RelevanceMismatch, strings.Join(all, "/")
}

// safetyCaveat returns the category-specific safety text, if any.
func safetyCaveat(c datatypes.Category) string {
	switch c {
	case datatypes.CategoryPesticide, datatypes.CategoryChemical:
		return "Chemical safety: use only registered products, follow the label dose and pre-harvest interval, and wear protective equipment"
	case datatypes.CategoryPest:
		return "Pest control: prefer monitoring and biological measures before any chemical treatment"
	}
	return ""
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
