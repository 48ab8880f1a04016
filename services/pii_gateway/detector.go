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
	"os"
	"sort"

	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway/enforcement"
	"gopkg.in/yaml.v3"
)

// Match is one detected span of personal data.
type Match struct {
	Type      PIIType
	PatternID string
	Start     int
	End       int
	Value     string
}

// Detector finds PII spans in free text.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Detector struct {
	categories []Category
	rank       map[PIIType]int
}

// NewDetector builds a detector from the embedded catalog.
func NewDetector() (*Detector, error) {
	return ParseDetector(enforcement.PIIPatterns)
}

// LoadDetector builds a detector from a catalog file, or the embedded catalog
// when path is empty.
func LoadDetector(path string) (*Detector, error) {
	if path == "" {
		return NewDetector()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PII patterns %s: %w", path, err)
	}
	return ParseDetector(data)
}

// Len returns the number of PII categories in the catalog.
func (d *Detector) Len() int { return len(d.categories) }

// ParseDetector builds a detector from YAML catalog bytes.
//
// # Description
//
// Unmarshals the catalog, compiles every regex and sorts categories by
// priority. Returns an error if the YAML is malformed, names an unknown type
// or contains an invalid regex.
func ParseDetector(data []byte) (*Detector, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the PII patterns: %w", err)
	}
	if err := file.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}
	file.SortByPriority()

	d := &Detector{
		categories: file.Categories,
		rank:       make(map[PIIType]int, len(file.Categories)),
	}
	for i, c := range file.Categories {
		if _, ok := d.rank[c.Type]; !ok {
			d.rank[c.Type] = i
		}
	}
	return d, nil
}

// Detect returns non-overlapping matches ordered by position.
//
// # Description
//
// Every pattern of every category (optionally restricted to types) is run
// over the whole text. Overlapping candidates are resolved longest-first;
// equal lengths go to the higher-priority category, then the earlier start.
// This prevents a short match (e.g. a name pair) from splitting a longer one
// (e.g. a patronymic name).
//
// # Inputs
//
//   - text: Free text to scan.
//   - types: Optional type filter; empty means all types.
//
// # Outputs
//
//   - []Match: Accepted matches sorted by Start.
func (d *Detector) Detect(text string, types ...PIIType) []Match {
	allowed := make(map[PIIType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var candidates []Match
	for _, category := range d.categories {
		if len(allowed) > 0 && !allowed[category.Type] {
			continue
		}
		for _, pattern := range category.Patterns {
			for _, loc := range pattern.compiled.FindAllStringIndex(text, -1) {
				if loc[1] <= loc[0] {
					continue
				}
				candidates = append(candidates, Match{
					Type:      category.Type,
					PatternID: pattern.ID,
					Start:     loc[0],
					End:       loc[1],
					Value:     text[loc[0]:loc[1]],
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li := candidates[i].End - candidates[i].Start
		lj := candidates[j].End - candidates[j].Start
		if li != lj {
			return li > lj
		}
		ri, rj := d.rank[candidates[i].Type], d.rank[candidates[j].Type]
		if ri != rj {
			return ri < rj
		}
		return candidates[i].Start < candidates[j].Start
	})

	var accepted []Match
	for _, c := range candidates {
		overlaps := false
		for _, a := range accepted {
			if c.Start < a.End && a.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

// Classify reports the highest-priority PII type present in text, or "" when
// none is found. It is a fast pre-check that stops at the first hit.
func (d *Detector) Classify(text string) PIIType {
	for _, category := range d.categories {
		for _, pattern := range category.Patterns {
			if pattern.compiled.MatchString(text) {
				return category.Type
			}
		}
	}
	return ""
}
