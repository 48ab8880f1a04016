// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sidecar

import (
	"fmt"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rule_validator"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/trust_scorer"
)

// mergeCandidates turns triggered rules into rule-based recommendations and
// folds the model suggestions in.
//
// # Description
//
//   - A suggestion in a category already covered by a triggered rule is
//     dropped; the rule-based recommendation supersedes it.
//   - A suggestion that names a triggered rule becomes hybrid.
//   - A suggestion that names any other rule loses the reference.
//
// Rule-based recommendations come first, in rulebook order.
func mergeCandidates(rb *rulebook.Rulebook, farm datatypes.FarmContext, triggered []rulebook.Rule, suggestions []datatypes.Recommendation) ([]datatypes.Recommendation, []string) {
	out := make([]datatypes.Recommendation, 0, len(triggered)+len(suggestions))
	covered := make(map[datatypes.Category]bool, len(triggered))
	byID := make(map[string]rulebook.Rule, len(triggered))
	for _, r := range triggered {
		out = append(out, r.ToRecommendation(farm))
		covered[r.Category] = true
		byID[r.ID] = r
	}

	var notes []string
	for _, s := range suggestions {
		if covered[s.Category] {
			notes = append(notes, fmt.Sprintf(
				"%s: model suggestion %q superseded by rule-based advice", s.Category, title(s)))
			continue
		}
		if s.RuleID != "" {
			if _, ok := byID[s.RuleID]; ok {
				s.Source = datatypes.SourceHybrid
			} else {
				reason := "did not trigger"
				if _, known := rb.Get(s.RuleID); !known {
					reason = "is unknown"
				}
				notes = append(notes, fmt.Sprintf(
					"%s: model cited rule %s which %s; reference dropped", s.Category, s.RuleID, reason))
				s.RuleID = ""
			}
		}
		out = append(out, s)
	}
	return out, notes
}

// score runs rule validation and trust scoring for one candidate. The trust
// score replaces the candidate's confidence.
func score(scorer *trust_scorer.Scorer, rec datatypes.Recommendation, triggered []rulebook.Rule, farm datatypes.FarmContext) (datatypes.DeliveredRecommendation, []string) {
	res := rule_validator.ValidateTriggered(rec, triggered)

	ruleIDs := res.SupportingRules
	if rec.RuleID != "" && !containsString(ruleIDs, rec.RuleID) {
		ruleIDs = append([]string{rec.RuleID}, ruleIDs...)
	}
	trust := scorer.Score(trust_scorer.Input{
		RuleIDs:       ruleIDs,
		Region:        farm.Farm.Region,
		Season:        farm.Temporal.Season,
		RawConfidence: res.Score,
		Category:      rec.Category,
	})

	rec.Confidence = trust.Overall
	d := datatypes.DeliveredRecommendation{
		Recommendation:  rec,
		ValidationScore: res.Score,
		TrustLevel:      string(trust.Level),
		Citations:       trust.Citations,
	}

	notes := make([]string, 0, len(res.Notes)+len(trust.Warnings)+len(trust.Caveats))
	for _, group := range [][]string{res.Notes, trust.Warnings, trust.Caveats} {
		for _, n := range group {
			notes = append(notes, fmt.Sprintf("%s: %s", rec.Category, n))
		}
	}
	return d, notes
}

// means returns the mean delivered confidence and the mean validation score.
func means(delivered []datatypes.DeliveredRecommendation) (float64, float64) {
	if len(delivered) == 0 {
		return 0, 0
	}
	var conf, val float64
	for _, d := range delivered {
		conf += d.Confidence
		val += d.ValidationScore
	}
	n := float64(len(delivered))
	return conf / n, val / n
}

func dedupe(notes []string) []string {
	out := make([]string, 0, len(notes))
	seen := make(map[string]bool, len(notes))
	for _, n := range notes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func title(r datatypes.Recommendation) string {
	if r.Title.En != "" {
		return r.Title.En
	}
	return r.Title.Az
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
