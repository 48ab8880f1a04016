// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pii_gateway

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"gopkg.in/yaml.v3"
)

// PIIType is the detected category of a piece of personal data.
type PIIType string

const (
	TypeName        PIIType = "name"
	TypePhone       PIIType = "phone"
	TypeEmail       PIIType = "email"
	TypeCoordinates PIIType = "coordinates"
	TypeFarmID      PIIType = "farm_id"
	TypeFarmerID    PIIType = "farmer_id"
	TypeUnknown     PIIType = "unknown"
)

// UnmarshalYAML restricts pattern categories to the detectable types.
func (t *PIIType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := PIIType(s)
	switch incoming {
	case TypeName, TypePhone, TypeEmail, TypeCoordinates:
		*t = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for PII type: %q", incoming)
	}
}

// placeholderLabel is the upper-case label used in placeholders such as
// [PHONE_1].
func (t PIIType) placeholderLabel() string {
	return strings.ToUpper(string(t))
}

// FarmerPlaceholder stands in for the farmer's own display name. It is the
// only placeholder Personalize ever resolves back to a real value.
const FarmerPlaceholder = "[FARMER]"

// PIIToken records one replaced value.
//
// # Description
//
// The original value is never stored. Hash is a truncated, peppered SHA-256
// digest usable for audit correlation only; it cannot be reversed.
type PIIToken struct {
	ID          string    `json:"id"`
	Type        PIIType   `json:"type"`
	Hash        string    `json:"hash"`
	Replacement string    `json:"replacement"`
	Occurrences int       `json:"occurrences"`
	CreatedAt   time.Time `json:"created_at"`
}

// SanitizedRequest is what leaves the trust boundary.
//
// # Fields
//
//   - RequestID: Key of the per-request token entry.
//   - FarmerID, FarmID: Freshly generated synthetic identifiers.
//   - Text: Free text with every detected value replaced by a placeholder.
//   - Tokens: Replacement records (no original values).
//   - Counts: Detections per type.
//   - Context: Sanitized copy of the farm context, safe for inference.
type SanitizedRequest struct {
	RequestID string                `json:"request_id"`
	FarmerID  string                `json:"farmer_id"`
	FarmID    string                `json:"farm_id"`
	Text      string                `json:"text"`
	Tokens    []PIIToken            `json:"tokens"`
	Counts    map[PIIType]int       `json:"counts"`
	Context   datatypes.FarmContext `json:"context"`
}

// =============================================================================
// Pattern File
// =============================================================================

// PatternFile is the YAML layout of the detection catalog.
type PatternFile struct {
	Categories []Category `yaml:"categories"`
}

// Category groups the patterns detecting one PII type.
type Category struct {
	Type        PIIType   `yaml:"type"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is a single detection regex.
type Pattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
	compiled    *regexp.Regexp
}

// CompileRegexes compiles every pattern in place.
func (p *PatternFile) CompileRegexes() error {
	for i := range p.Categories {
		for j := range p.Categories[i].Patterns {
			pattern := &p.Categories[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.ID, err)
			}
			pattern.compiled = re
		}
	}
	return nil
}

// SortByPriority orders categories from highest to lowest priority. Ties in
// overlap resolution are broken by this order.
func (p *PatternFile) SortByPriority() {
	sort.SliceStable(p.Categories, func(i, j int) bool {
		return p.Categories[i].Priority > p.Categories[j].Priority
	})
}
