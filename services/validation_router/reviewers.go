// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation_router

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/go-playground/validator/v10"
)

// ErrReviewerExists is returned when registering a duplicate reviewer id.
var ErrReviewerExists = errors.New("reviewer already registered")

var reviewerValidate = validator.New()

// Reviewer is a registered domain expert.
//
// # Fields
//
//   - ID: Stable reviewer id; matches the authenticated user id.
//   - Name: Display name.
//   - Expertise: Categories the reviewer may decide. Required.
//   - Regions: Regions the reviewer covers. Empty means nationwide.
type Reviewer struct {
	ID        string               `json:"id" validate:"required,max=128"`
	Name      string               `json:"name" validate:"max=256"`
	Expertise []datatypes.Category `json:"expertise" validate:"required,min=1"`
	Regions   []string             `json:"regions,omitempty"`
}

// ReviewerStats is a reviewer's running decision record.
type ReviewerStats struct {
	Decided      int     `json:"decided"`
	Approved     int     `json:"approved"`
	ApprovalRate float64 `json:"approval_rate"`
}

// ReviewerInfo is a reviewer with its current statistics.
type ReviewerInfo struct {
	Reviewer
	Stats ReviewerStats `json:"stats"`
}

// Matches reports whether the reviewer covers category in region. An empty
// region matches every reviewer with the right expertise.
func (r Reviewer) Matches(category datatypes.Category, region string) bool {
	if !contains(r.Expertise, category) {
		return false
	}
	if len(r.Regions) == 0 || region == "" {
		return true
	}
	for _, reg := range r.Regions {
		if strings.EqualFold(reg, region) {
			return true
		}
	}
	return false
}

// Registry holds reviewers in registration order.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*ReviewerInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*ReviewerInfo)}
}

// Register adds a reviewer.
func (g *Registry) Register(r Reviewer) error {
	if err := reviewerValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid reviewer: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byID[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrReviewerExists, r.ID)
	}
	r.Expertise = append([]datatypes.Category(nil), r.Expertise...)
	r.Regions = append([]string(nil), r.Regions...)
	g.byID[r.ID] = &ReviewerInfo{Reviewer: r}
	g.order = append(g.order, r.ID)
	return nil
}

// Get returns a reviewer and its stats.
func (g *Registry) Get(id string) (ReviewerInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.byID[id]
	if !ok {
		return ReviewerInfo{}, false
	}
	return *info, true
}

// List returns all reviewers in registration order.
func (g *Registry) List() []ReviewerInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ReviewerInfo, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.byID[id])
	}
	return out
}

// FindMatch returns the id of the first registered reviewer covering
// category in region, or "" when none does.
func (g *Registry) FindMatch(category datatypes.Category, region string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		if g.byID[id].Matches(category, region) {
			return id
		}
	}
	return ""
}

// RecordDecision updates a reviewer's running approval rate. Unknown ids are
// ignored.
func (g *Registry) RecordDecision(id string, approved bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.byID[id]
	if !ok {
		return
	}
	info.Stats.Decided++
	if approved {
		info.Stats.Approved++
	}
	info.Stats.ApprovalRate = float64(info.Stats.Approved) / float64(info.Stats.Decided)
}
