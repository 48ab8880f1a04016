// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rule_validator cross-checks recommendations against the rulebook
// and produces a validation score with human-readable notes.
package rule_validator

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
)

// Scoring constants.
const (
	// BaseScore is the neutral starting score.
	BaseScore = 0.5

	// KeywordMinRunes is the exclusive lower bound on keyword length; shorter
	// words are treated as stop-words.
	KeywordMinRunes = 4

	// MinKeywordHits is how many rule keywords must appear in the candidate
	// text for partial credit.
	MinKeywordHits = 1

	// KeywordCreditFactor scales a rule's weight for keyword-only support.
	KeywordCreditFactor = 0.8

	// AgreementBoost multiplies the score when two or more rules support the
	// recommendation.
	AgreementBoost = 1.1

	// NoCoverageFactor multiplies the score when no rule supports the
	// recommendation.
	NoCoverageFactor = 0.7
)

// NoCoverageNote is appended when no rule supports a recommendation.
const NoCoverageNote = "No rulebook coverage: requires human review"

// Result is the outcome of validating one recommendation.
//
// # Fields
//
//   - Score: Validation score in [0,1].
//   - Notes: Explanation lines, in the order the evidence was found.
//   - SupportingRules: Ids of every rule that supports the recommendation,
//     by category or keyword overlap, in rulebook order.
//   - CategoryMatches: Number of same-category supporting rules.
type Result struct {
	Score           float64  `json:"score"`
	Notes           []string `json:"notes"`
	SupportingRules []string `json:"supporting_rules"`
	CategoryMatches int      `json:"category_matches"`
}

// Covered reports whether at least one rule supports the recommendation.
func (r Result) Covered() bool { return len(r.SupportingRules) > 0 }

// Validator scores recommendations against the active rulebook.
//
// # Thread Safety
//
// Stateless apart from the rulebook source; safe for concurrent use.
type Validator struct {
	rules  rulebook.Source
	logger *slog.Logger
}

// New creates a validator reading rules from src.
func New(src rulebook.Source, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{rules: src, logger: logger}
}

// Validate scores rec against the rules that trigger on ctx.
//
// # Description
//
// Uses the current rulebook snapshot. See ValidateTriggered for the scoring
// steps.
func (v *Validator) Validate(rec datatypes.Recommendation, ctx datatypes.FarmContext) Result {
	res := ValidateTriggered(rec, v.rules.Current().TriggeredRules(ctx))
	v.logger.Debug("Recommendation validated",
		"recommendation_id", rec.ID,
		"score", res.Score,
		"supporting_rules", len(res.SupportingRules))
	return res
}

// ValidateTriggered scores rec against an already evaluated set of triggered
// rules.
//
// # Description
//
//  1. Start at BaseScore.
//  2. Every triggered rule of the same category raises the score to at least
//     its weight and adds a note.
//  3. Every other triggered rule whose keywords (longer than KeywordMinRunes
//     runes) appear in the recommendation text gives partial credit of
//     weight * KeywordCreditFactor.
//  4. Two or more distinct supporting rules multiply the score by
//     AgreementBoost, capped at 1.
//  5. No supporting rule multiplies the score by NoCoverageFactor and adds
//     NoCoverageNote.
//
// # Inputs
//
//   - rec: The recommendation to check.
//   - triggered: Rules that triggered on the request context.
//
// # Outputs
//
//   - Result: Score in [0,1] with notes and supporting rule ids.
func ValidateTriggered(rec datatypes.Recommendation, triggered []rulebook.Rule) Result {
	res := Result{Score: BaseScore}
	text := strings.ToLower(rec.Text())
	seen := make(map[string]bool)

	for _, rule := range triggered {
		if seen[rule.ID] {
			continue
		}
		if rule.Category == rec.Category {
			seen[rule.ID] = true
			res.CategoryMatches++
			res.SupportingRules = append(res.SupportingRules, rule.ID)
			res.Score = math.Max(res.Score, rule.Weight)
			res.Notes = append(res.Notes, fmt.Sprintf(
				"Supported by rule %s (%s, weight %.2f)", rule.ID, rule.Category, rule.Weight))
			continue
		}

		hits := keywordHits(rule.Keywords(KeywordMinRunes), text)
		if hits >= MinKeywordHits {
			seen[rule.ID] = true
			res.SupportingRules = append(res.SupportingRules, rule.ID)
			credit := rule.Weight * KeywordCreditFactor
			res.Score = math.Max(res.Score, credit)
			res.Notes = append(res.Notes, fmt.Sprintf(
				"Partial match with rule %s (%d shared keywords, credit %.2f)", rule.ID, hits, credit))
		}
	}

	switch {
	case len(res.SupportingRules) >= 2:
		res.Score = math.Min(1, res.Score*AgreementBoost)
		res.Notes = append(res.Notes, fmt.Sprintf(
			"%d independent rules agree: score boosted", len(res.SupportingRules)))
	case len(res.SupportingRules) == 0:
		res.Score *= NoCoverageFactor
		res.Notes = append(res.Notes, NoCoverageNote)
	}

	res.Score = clamp01(res.Score)
	return res
}

func keywordHits(keywords []string, text string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
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
