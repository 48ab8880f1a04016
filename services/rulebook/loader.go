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
	"os"

	"github.com/AleutianAI/SidecarIntelligence/services/rulebook/enforcement"
	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML layout of a rulebook.
type File struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Parse decodes and validates a YAML rulebook.
//
// # Outputs
//
//   - *Rulebook: The validated snapshot.
//   - error: YAML errors (including unknown operators) or ErrInvalidRule.
func Parse(data []byte) (*Rulebook, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rulebook: %w", err)
	}
	return New(f.Version, f.Rules)
}

// LoadFile reads and parses a rulebook from path.
func LoadFile(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rulebook %s: %w", path, err)
	}
	rb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rulebook %s: %w", path, err)
	}
	return rb, nil
}

// Default returns the rulebook compiled into the binary.
func Default() (*Rulebook, error) {
	rb, err := Parse(enforcement.DefaultRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load the embedded rulebook: %w", err)
	}
	return rb, nil
}

// Load returns the rulebook at path, or the embedded default when path is
// empty.
func Load(path string) (*Rulebook, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}
