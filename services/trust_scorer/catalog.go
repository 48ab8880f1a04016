// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trust_scorer

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed citations.yaml
var defaultCitations []byte

var catalogValidate = validator.New()

// Catalog is an immutable lookup table of citations.
type Catalog struct {
	byID  map[string]datatypes.Citation
	order []string
}

type catalogFile struct {
	Citations []datatypes.Citation `yaml:"citations"`
}

// ParseCatalog decodes and validates a YAML citation catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal citation catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]datatypes.Citation, len(f.Citations))}
	for i, cit := range f.Citations {
		if err := catalogValidate.Struct(cit); err != nil {
			return nil, fmt.Errorf("citation %d (%q): %w", i, cit.ID, err)
		}
		if _, dup := c.byID[cit.ID]; dup {
			return nil, fmt.Errorf("duplicate citation id %q", cit.ID)
		}
		c.byID[cit.ID] = cit
		c.order = append(c.order, cit.ID)
	}
	return c, nil
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCitations)
}

// LoadCatalog reads a catalog from path, or the embedded one when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read citation catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Get returns the citation with id.
func (c *Catalog) Get(id string) (datatypes.Citation, bool) {
	cit, ok := c.byID[id]
	return cit, ok
}

// Resolve returns the citations for ids in order, skipping unknown ids.
func (c *Catalog) Resolve(ids []string) []datatypes.Citation {
	out := make([]datatypes.Citation, 0, len(ids))
	for _, id := range ids {
		if cit, ok := c.byID[id]; ok {
			out = append(out, cit)
		}
	}
	return out
}

// Len returns the number of citations.
func (c *Catalog) Len() int { return len(c.order) }
