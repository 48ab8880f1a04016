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
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Operators
// =============================================================================

// Operator is one of the closed set of comparison operators a Condition may
// use. Rules are data, so no other predicate form exists.
type Operator string

const (
	OpEquals       Operator = "eq"
	OpNotEquals    Operator = "ne"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpBetween      Operator = "between"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpContains     Operator = "contains"
)

// validOperators lists every Operator accepted at load time.
var validOperators = map[Operator]bool{
	OpEquals:       true,
	OpNotEquals:    true,
	OpGreater:      true,
	OpGreaterEqual: true,
	OpLess:         true,
	OpLessEqual:    true,
	OpBetween:      true,
	OpIn:           true,
	OpNotIn:        true,
	OpContains:     true,
}

// UnmarshalYAML rejects operators outside the closed set.
func (o *Operator) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if !validOperators[op] {
		return fmt.Errorf("invalid value for operator: %q", s)
	}
	*o = op
	return nil
}

// =============================================================================
// Condition
// =============================================================================

// Condition is a single typed predicate: (field path, operator, operand).
//
// # Description
//
// Field is a dotted path resolved through datatypes.Lookuper. Value is the
// operand; its expected shape depends on the operator:
//
//   - eq, ne: scalar (number, bool or string)
//   - gt, gte, lt, lte: number
//   - between: two-element list [low, high], inclusive on both ends
//   - in, not_in: list of scalars
//   - contains: string (case-sensitive substring)
//
// # Examples
//
//	Condition{Field: "soil.moisture", Operator: OpLess, Value: 30}
//	Condition{Field: "temporal.season", Operator: OpIn, Value: []any{"spring", "summer"}}
type Condition struct {
	Field    string   `yaml:"field" json:"field" validate:"required"`
	Operator Operator `yaml:"operator" json:"operator" validate:"required"`
	Value    any      `yaml:"value" json:"value"`
}

// String renders the condition for notes and audit output.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// Check validates the operand shape for the operator. It is used at load
// time; Evaluate itself never fails.
func (c Condition) Check() error {
	if c.Field == "" {
		return fmt.Errorf("condition has empty field")
	}
	if !validOperators[c.Operator] {
		return fmt.Errorf("condition on %s: unknown operator %q", c.Field, c.Operator)
	}
	switch c.Operator {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if _, ok := toFloat(c.Value); !ok {
			return fmt.Errorf("condition on %s: operator %s needs a numeric operand", c.Field, c.Operator)
		}
	case OpBetween:
		lo, hi, ok := bounds(c.Value)
		if !ok {
			return fmt.Errorf("condition on %s: between needs [low, high]", c.Field)
		}
		if lo > hi {
			return fmt.Errorf("condition on %s: between low %v > high %v", c.Field, lo, hi)
		}
	case OpIn, OpNotIn:
		if _, ok := toList(c.Value); !ok {
			return fmt.Errorf("condition on %s: operator %s needs a list operand", c.Field, c.Operator)
		}
	case OpContains:
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("condition on %s: contains needs a string operand", c.Field)
		}
	case OpEquals, OpNotEquals:
		if c.Value == nil {
			return fmt.Errorf("condition on %s: operator %s needs an operand", c.Field, c.Operator)
		}
	}
	return nil
}

// Evaluate applies a condition to a context.
//
// # Description
//
// Evaluate is pure and total. An absent field, a type mismatch or a malformed
// operand all yield false; it never panics. The same condition over the same
// context always yields the same result.
//
// List-valued fields (e.g. farm.crops) are handled element-wise: eq, in and
// contains succeed if any element satisfies them; ne and not_in succeed only
// if no element matches.
//
// # Inputs
//
//   - c: The condition.
//   - ctx: The lookup source, usually a datatypes.FarmContext.
//
// # Outputs
//
//   - bool: Whether the condition holds.
func Evaluate(c Condition, ctx datatypes.Lookuper) bool {
	if ctx == nil {
		return false
	}
	actual, ok := ctx.Lookup(c.Field)
	if !ok || actual == nil {
		return false
	}

	if list, isList := actual.([]string); isList {
		return evaluateList(c, list)
	}
	return evaluateScalar(c, actual)
}

// EvaluateAll reports whether every condition holds. An empty list is false.
func EvaluateAll(conds []Condition, ctx datatypes.Lookuper) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !Evaluate(c, ctx) {
			return false
		}
	}
	return true
}

func evaluateScalar(c Condition, actual any) bool {
	switch c.Operator {
	case OpEquals:
		return valuesEqual(actual, c.Value)
	case OpNotEquals:
		if !sameKind(actual, c.Value) {
			return false
		}
		return !valuesEqual(actual, c.Value)
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		b, ok := toFloat(c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGreater:
			return a > b
		case OpGreaterEqual:
			return a >= b
		case OpLess:
			return a < b
		default:
			return a <= b
		}
	case OpBetween:
		a, ok := toFloat(actual)
		if !ok {
			return false
		}
		lo, hi, ok := bounds(c.Value)
		if !ok {
			return false
		}
		return a >= lo && a <= hi
	case OpIn, OpNotIn:
		set, ok := toList(c.Value)
		if !ok {
			return false
		}
		found := false
		for _, candidate := range set {
			if valuesEqual(actual, candidate) {
				found = true
				break
			}
		}
		if c.Operator == OpIn {
			return found
		}
		return !found
	case OpContains:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		sub, ok := c.Value.(string)
		if !ok {
			return false
		}
		return strings.Contains(s, sub)
	}
	return false
}

func evaluateList(c Condition, list []string) bool {
	switch c.Operator {
	case OpEquals, OpIn, OpContains:
		for _, elem := range list {
			if evaluateScalar(c, elem) {
				return true
			}
		}
		return false
	case OpNotEquals, OpNotIn:
		positive := c
		if c.Operator == OpNotEquals {
			positive.Operator = OpEquals
		} else {
			positive.Operator = OpIn
		}
		if positive.Operator == OpIn {
			if _, ok := toList(c.Value); !ok {
				return false
			}
		} else if _, ok := c.Value.(string); !ok {
			return false
		}
		for _, elem := range list {
			if evaluateScalar(positive, elem) {
				return false
			}
		}
		return true
	}
	return false
}

// =============================================================================
// Value Coercion
// =============================================================================

// toFloat coerces any Go numeric type to float64. Strings are not numbers.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// toList accepts []any, []string, []float64 and []int operands.
func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func bounds(v any) (float64, float64, bool) {
	list, ok := toList(v)
	if !ok || len(list) != 2 {
		return 0, 0, false
	}
	lo, ok := toFloat(list[0])
	if !ok {
		return 0, 0, false
	}
	hi, ok := toFloat(list[1])
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// sameKind reports whether a and b are of compatible kinds.
func sameKind(a, b any) bool {
	if _, ok := toFloat(a); ok {
		_, ok = toFloat(b)
		return ok
	}
	switch a.(type) {
	case bool:
		_, ok := b.(bool)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	}
	return false
}

// valuesEqual compares by value with numeric coercion. Mismatched kinds are
// unequal.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}
