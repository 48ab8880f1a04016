// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logic_guard is the final deterministic safety pass. It applies
// hard agronomic constraints to scored recommendations and can block, modify
// or annotate any of them regardless of confidence.
package logic_guard

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/AleutianAI/SidecarIntelligence/services/logic_guard/enforcement"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidGuardRule is returned when a guard rule fails load-time checks.
var ErrInvalidGuardRule = errors.New("invalid guard rule")

// DefaultConfidenceFactor scales confidence on a modify action when the rule
// does not set its own factor.
const DefaultConfidenceFactor = 0.9

// WarningPrefix is prepended to the title of a warned recommendation.
const WarningPrefix = "⚠ "

var guardValidate = validator.New()

// =============================================================================
// Rule Types
// =============================================================================

// Action is what the guard does with a violating recommendation.
type Action string

const (
	ActionBlock  Action = "block"
	ActionModify Action = "modify"
	ActionWarn   Action = "warn"
)

// UnmarshalYAML rejects actions outside block, modify and warn.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch act := Action(strings.ToLower(strings.TrimSpace(s))); act {
	case ActionBlock, ActionModify, ActionWarn:
		*a = act
		return nil
	}
	return fmt.Errorf("invalid value for action: %q", s)
}

// Modification describes the edit applied by a modify action.
type Modification struct {
	SuggestedTime     string  `yaml:"suggested_time" json:"suggested_time,omitempty"`
	DeadlineShiftDays int     `yaml:"deadline_shift_days" json:"deadline_shift_days,omitempty" validate:"gte=0"`
	ConfidenceFactor  float64 `yaml:"confidence_factor" json:"confidence_factor,omitempty" validate:"gte=0,lte=1"`
}

// GuardRule is one hard constraint.
//
// # Fields
//
//   - ID: Unique id, recorded in the recommendation's GuardFlags.
//   - Categories: Recommendation categories the rule is bound to.
//   - Keywords: Optional; when set, at least one must appear in the
//     recommendation text (case-insensitive).
//   - When: AND-combined conditions describing the violation.
//   - Action: block, modify or warn.
//   - Modification: Edit applied by modify.
//   - Warning: Localized text appended by modify and warn.
type GuardRule struct {
	ID           string                  `yaml:"id" json:"id" validate:"required"`
	Description  string                  `yaml:"description" json:"description"`
	Categories   []datatypes.Category    `yaml:"categories" json:"categories" validate:"required,min=1"`
	Keywords     []string                `yaml:"keywords" json:"keywords,omitempty"`
	When         []rulebook.Condition    `yaml:"when" json:"when" validate:"required,min=1,dive"`
	Action       Action                  `yaml:"action" json:"action" validate:"required"`
	Modification *Modification           `yaml:"modification" json:"modification,omitempty"`
	Warning      datatypes.LocalizedText `yaml:"warning" json:"warning"`
}

func (r GuardRule) appliesTo(rec datatypes.Recommendation) bool {
	bound := false
	for _, c := range r.Categories {
		if c == rec.Category {
			bound = true
			break
		}
	}
	if !bound {
		return false
	}
	if len(r.Keywords) == 0 {
		return true
	}
	text := strings.ToLower(rec.Text())
	for _, kw := range r.Keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// File is the on-disk YAML layout of a guard catalog.
type File struct {
	Version string      `yaml:"version"`
	Rules   []GuardRule `yaml:"rules"`
}

// =============================================================================
// Outcomes and Statistics
// =============================================================================

// Outcome records one guard intervention.
type Outcome struct {
	RecommendationID string `json:"recommendation_id"`
	RuleID           string `json:"rule_id"`
	Action           Action `json:"action"`
	Message          string `json:"message"`
}

// Report is the result of one guard pass.
type Report struct {
	Kept     []datatypes.Recommendation
	Outcomes []Outcome
	Blocked  int
}

// Stats is a point-in-time snapshot of the guard counters.
type Stats struct {
	Overrides int64            `json:"overrides"`
	ByAction  map[string]int64 `json:"by_action"`
	ByRule    map[string]int64 `json:"by_rule"`
}

// =============================================================================
// Guard
// =============================================================================

// Guard applies an ordered list of hard constraints.
//
// # Description
//
// For each recommendation the rules are checked in order; the first rule
// that is bound to the recommendation's category and whose conditions all
// hold wins. Conditions read a lookup that merges the farm context with the
// recommendation's own fields, so missing data never counts as a violation.
//
// A recommendation that already carries a flag from this guard has been
// through a previous pass and is kept unchanged, so running the guard over its
// own output is a no-op.
//
// Cost is linear in rules times recommendations.
//
// # Thread Safety
//
// Rules are immutable after construction and counters are atomic; safe for
// concurrent use.
type Guard struct {
	version  string
	rules    []GuardRule
	known    map[string]bool
	logger   *slog.Logger
	byRule   map[string]*atomic.Int64
	byAction map[Action]*atomic.Int64
}

// New builds a guard from rule definitions.
//
// # Outputs
//
//   - *Guard: The guard.
//   - error: Wraps ErrInvalidGuardRule on invalid or duplicate rules.
func New(version string, rules []GuardRule, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		version: version,
		known:   make(map[string]bool, len(rules)),
		logger:  logger.With("component", "logic_guard"),
		byRule:  make(map[string]*atomic.Int64, len(rules)),
		byAction: map[Action]*atomic.Int64{
			ActionBlock:  new(atomic.Int64),
			ActionModify: new(atomic.Int64),
			ActionWarn:   new(atomic.Int64),
		},
	}
	for i, r := range rules {
		if err := checkGuardRule(r); err != nil {
			return nil, fmt.Errorf("%w: rule %d (%q): %v", ErrInvalidGuardRule, i, r.ID, err)
		}
		if g.known[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidGuardRule, r.ID)
		}
		g.known[r.ID] = true
		g.byRule[r.ID] = new(atomic.Int64)
		g.rules = append(g.rules, r)
	}
	return g, nil
}

func checkGuardRule(r GuardRule) error {
	if err := guardValidate.Struct(r); err != nil {
		return err
	}
	for _, c := range r.When {
		if err := c.Check(); err != nil {
			return err
		}
	}
	if r.Action == ActionModify && r.Modification == nil && r.Warning.IsZero() {
		return fmt.Errorf("modify action needs a modification or a warning")
	}
	return nil
}

// Parse decodes and validates a YAML guard catalog.
func Parse(data []byte, logger *slog.Logger) (*Guard, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guard rules: %w", err)
	}
	return New(f.Version, f.Rules, logger)
}

// Load returns the guard catalog at path, or the embedded one when path is
// empty.
func Load(path string, logger *slog.Logger) (*Guard, error) {
	if path == "" {
		return Parse(enforcement.GuardRules, logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guard rules %s: %w", path, err)
	}
	return Parse(data, logger)
}

// Version returns the catalog version label.
func (g *Guard) Version() string { return g.version }

// Rules returns a copy of the guard rules in evaluation order.
func (g *Guard) Rules() []GuardRule {
	out := make([]GuardRule, len(g.rules))
	copy(out, g.rules)
	return out
}

// ValidateRecommendations returns the recommendations that survive the guard,
// with modify and warn edits applied.
func (g *Guard) ValidateRecommendations(recs []datatypes.Recommendation, ctx datatypes.FarmContext) []datatypes.Recommendation {
	return g.ValidateWithReport(recs, ctx).Kept
}

// ValidateWithReport runs the guard and also returns every intervention.
//
// # Inputs
//
//   - recs: Scored recommendations. Not modified.
//   - ctx: The request's farm context.
//
// # Outputs
//
//   - Report: Surviving copies in input order, outcomes and block count.
func (g *Guard) ValidateWithReport(recs []datatypes.Recommendation, ctx datatypes.FarmContext) Report {
	report := Report{Kept: make([]datatypes.Recommendation, 0, len(recs))}

	for _, rec := range recs {
		if g.alreadyGuarded(rec) {
			report.Kept = append(report.Kept, rec.Clone())
			continue
		}
		rule, ok := g.firstViolation(rec, ctx)
		if !ok {
			report.Kept = append(report.Kept, rec.Clone())
			continue
		}

		outcome := Outcome{
			RecommendationID: rec.ID,
			RuleID:           rule.ID,
			Action:           rule.Action,
			Message:          rule.Description,
		}
		g.byRule[rule.ID].Add(1)
		g.byAction[rule.Action].Add(1)

		switch rule.Action {
		case ActionBlock:
			report.Blocked++
		case ActionModify:
			report.Kept = append(report.Kept, applyModify(rec, rule))
		case ActionWarn:
			report.Kept = append(report.Kept, applyWarn(rec, rule))
		}
		report.Outcomes = append(report.Outcomes, outcome)

		g.logger.Info("Guard rule applied",
			"rule_id", rule.ID,
			"action", string(rule.Action),
			"recommendation_id", rec.ID,
			"category", string(rec.Category))
	}
	return report
}

// Stats returns the guard counters.
func (g *Guard) Stats() Stats {
	s := Stats{
		ByAction: make(map[string]int64, len(g.byAction)),
		ByRule:   make(map[string]int64, len(g.byRule)),
	}
	for a, c := range g.byAction {
		s.ByAction[string(a)] = c.Load()
	}
	for id, c := range g.byRule {
		s.ByRule[id] = c.Load()
	}
	s.Overrides = s.ByAction[string(ActionBlock)]
	return s
}

func (g *Guard) alreadyGuarded(rec datatypes.Recommendation) bool {
	for _, f := range rec.GuardFlags {
		if g.known[f] {
			return true
		}
	}
	return false
}

func (g *Guard) firstViolation(rec datatypes.Recommendation, ctx datatypes.FarmContext) (GuardRule, bool) {
	lookup := mergedLookup{ctx: ctx, rec: rec}
	for _, r := range g.rules {
		if !r.appliesTo(rec) {
			continue
		}
		if rulebook.EvaluateAll(r.When, lookup) {
			return r, true
		}
	}
	return GuardRule{}, false
}

// mergedLookup resolves recommendation.* against the recommendation and
// everything else against the farm context.
type mergedLookup struct {
	ctx datatypes.FarmContext
	rec datatypes.Recommendation
}

func (m mergedLookup) Lookup(path string) (any, bool) {
	if strings.HasPrefix(path, "recommendation.") {
		return m.rec.Lookup(path)
	}
	return m.ctx.Lookup(path)
}

// =============================================================================
// Edits
// =============================================================================

func applyModify(rec datatypes.Recommendation, rule GuardRule) datatypes.Recommendation {
	out := rec.Clone()
	factor := DefaultConfidenceFactor
	if m := rule.Modification; m != nil {
		if m.ConfidenceFactor > 0 {
			factor = m.ConfidenceFactor
		}
		if m.SuggestedTime != "" {
			out.SuggestedTime = m.SuggestedTime
		}
		if m.DeadlineShiftDays > 0 && out.Deadline != nil {
			d := out.Deadline.AddDate(0, 0, m.DeadlineShiftDays)
			out.Deadline = &d
		}
	}
	out.Confidence = rec.Confidence * factor
	out.Description = appendLine(out.Description, rule.Warning)
	out.GuardFlags = append(out.GuardFlags, rule.ID)
	return out
}

func applyWarn(rec datatypes.Recommendation, rule GuardRule) datatypes.Recommendation {
	out := rec.Clone()
	out.Title = datatypes.LocalizedText{
		Az: prefixOnce(out.Title.Az),
		En: prefixOnce(out.Title.En),
	}
	out.Description = appendLine(out.Description, rule.Warning)
	out.GuardFlags = append(out.GuardFlags, rule.ID)
	return out
}

func prefixOnce(s string) string {
	if s == "" || strings.HasPrefix(s, WarningPrefix) {
		return s
	}
	return WarningPrefix + s
}

func appendLine(text, warning datatypes.LocalizedText) datatypes.LocalizedText {
	join := func(a, b string) string {
		switch {
		case b == "":
			return a
		case a == "":
			return WarningPrefix + b
		}
		return a + "\n" + WarningPrefix + b
	}
	return datatypes.LocalizedText{Az: join(text.Az, warning.Az), En: join(text.En, warning.En)}
}
