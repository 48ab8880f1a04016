// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rulebook holds the deterministic domain rules used to originate and
// cross-check recommendations.
//
// Rules are data: each one is a conjunction of Conditions over a closed
// operator set, loaded from YAML and validated before use. A Rulebook is an
// immutable snapshot; hot reload swaps whole snapshots through Store.
package rulebook

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidRule is returned when a rule definition fails load-time checks.
var ErrInvalidRule = errors.New("invalid rule definition")

var ruleValidate = validator.New()

// Source provides the current rulebook snapshot.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Source interface {
	Current() *Rulebook
}

// Evaluation is the outcome of evaluating one rule against one context.
type Evaluation struct {
	Rule       Rule
	Triggered  bool
	Confidence float64
}

// Rulebook is an ordered, immutable collection of rules.
//
// # Thread Safety
//
// A Rulebook is never mutated after New returns and is safe for concurrent
// use.
type Rulebook struct {
	version string
	rules   []Rule
	byID    map[string]int
}

var _ Source = (*Rulebook)(nil)

// New builds a rulebook from rule definitions.
//
// # Description
//
// Every rule is validated: struct tags, a non-empty condition list, operand
// shapes and unique ids. The input slice is deep-copied.
//
// # Inputs
//
//   - version: Free-form version label, reported by the API.
//   - rules: Rule definitions in evaluation order.
//
// # Outputs
//
//   - *Rulebook: The snapshot.
//   - error: Wraps ErrInvalidRule on any failed check.
func New(version string, rules []Rule) (*Rulebook, error) {
	rb := &Rulebook{
		version: version,
		rules:   make([]Rule, 0, len(rules)),
		byID:    make(map[string]int, len(rules)),
	}
	for i, r := range rules {
		if err := checkRule(r); err != nil {
			return nil, fmt.Errorf("%w: rule %d (%q): %v", ErrInvalidRule, i, r.ID, err)
		}
		if _, dup := rb.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, r.ID)
		}
		rb.byID[r.ID] = len(rb.rules)
		rb.rules = append(rb.rules, r.clone())
	}
	return rb, nil
}

func checkRule(r Rule) error {
	if err := ruleValidate.Struct(r); err != nil {
		return err
	}
	for _, c := range r.Conditions {
		if err := c.Check(); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the rulebook itself so a static snapshot can be used
// wherever a Source is expected.
func (rb *Rulebook) Current() *Rulebook { return rb }

// Version returns the version label.
func (rb *Rulebook) Version() string { return rb.version }

// Len returns the number of rules.
func (rb *Rulebook) Len() int { return len(rb.rules) }

// Rules returns a copy of all rules in order.
func (rb *Rulebook) Rules() []Rule {
	out := make([]Rule, len(rb.rules))
	for i, r := range rb.rules {
		out[i] = r.clone()
	}
	return out
}

// Get returns the rule with the given id.
func (rb *Rulebook) Get(id string) (Rule, bool) {
	i, ok := rb.byID[id]
	if !ok {
		return Rule{}, false
	}
	return rb.rules[i].clone(), true
}

// ByCategory returns the rules of one category in order.
func (rb *Rulebook) ByCategory(category datatypes.Category) []Rule {
	var out []Rule
	for _, r := range rb.rules {
		if r.Category == category {
			out = append(out, r.clone())
		}
	}
	return out
}

// ApplicableRules returns the rules whose crop, farm-type, season and region
// filters admit ctx.
func (rb *Rulebook) ApplicableRules(ctx datatypes.FarmContext) []Rule {
	var out []Rule
	for _, r := range rb.rules {
		if r.AppliesTo(ctx) {
			out = append(out, r.clone())
		}
	}
	return out
}

// EvaluateAll evaluates every applicable rule against ctx.
//
// # Description
//
// A rule triggers only if all of its conditions hold. The confidence of a
// triggered rule is its weight, otherwise 0. Each rule is evaluated
// independently, so reordering the rulebook never changes which rules
// trigger.
//
// # Outputs
//
//   - []Evaluation: One entry per applicable rule, in rulebook order.
func (rb *Rulebook) EvaluateAll(ctx datatypes.FarmContext) []Evaluation {
	applicable := rb.ApplicableRules(ctx)
	out := make([]Evaluation, 0, len(applicable))
	for _, r := range applicable {
		ev := Evaluation{Rule: r}
		if r.Triggers(ctx) {
			ev.Triggered = true
			ev.Confidence = r.Weight
		}
		out = append(out, ev)
	}
	return out
}

// TriggeredRules returns only the applicable rules that trigger on ctx.
func (rb *Rulebook) TriggeredRules(ctx datatypes.FarmContext) []Rule {
	var out []Rule
	for _, ev := range rb.EvaluateAll(ctx) {
		if ev.Triggered {
			out = append(out, ev.Rule)
		}
	}
	return out
}

// GetRuleBasedRecommendations maps every triggered rule to a rule-based
// recommendation.
func (rb *Rulebook) GetRuleBasedRecommendations(ctx datatypes.FarmContext) []datatypes.Recommendation {
	triggered := rb.TriggeredRules(ctx)
	out := make([]datatypes.Recommendation, 0, len(triggered))
	for _, r := range triggered {
		out = append(out, r.ToRecommendation(ctx))
	}
	return out
}

// PreApprovedIDs returns the set of rule ids carrying expert sign-off.
func (rb *Rulebook) PreApprovedIDs() map[string]bool {
	out := make(map[string]bool)
	for _, r := range rb.rules {
		if r.PreApproved {
			out[r.ID] = true
		}
	}
	return out
}

// IsPreApproved reports whether id names a pre-approved rule.
func (rb *Rulebook) IsPreApproved(id string) bool {
	i, ok := rb.byID[id]
	return ok && rb.rules[i].PreApproved
}

// Categories returns the distinct categories in first-seen order.
func (rb *Rulebook) Categories() []datatypes.Category {
	seen := make(map[datatypes.Category]bool)
	var out []datatypes.Category
	for _, r := range rb.rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}
