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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	badgerstore "github.com/AleutianAI/SidecarIntelligence/services/storage/badger"
)

// ErrDecisionExists is returned when a decision for the recommendation is
// already recorded. Decisions are immutable.
var ErrDecisionExists = errors.New("decision already recorded")

// SystemReviewer is the reviewer id recorded for expiry decisions.
const SystemReviewer = "system"

// Decision is one immutable entry of the decision log.
//
// # Fields
//
//   - RecommendationID: Key of the log; one decision per recommendation.
//   - Outcome: verified, rejected or expired.
//   - Recommendation: The reviewed content with its scored confidence.
type Decision struct {
	RecommendationID string                   `json:"recommendation_id"`
	QueueItemID      string                   `json:"queue_item_id"`
	RequestID        string                   `json:"request_id"`
	ReviewerID       string                   `json:"reviewer_id"`
	AssignedTo       string                   `json:"assigned_to,omitempty"`
	Tier             datatypes.Tier           `json:"tier"`
	Outcome          datatypes.ReviewStatus   `json:"outcome"`
	Comment          string                   `json:"comment,omitempty"`
	Recommendation   datatypes.Recommendation `json:"recommendation"`
	DecidedAt        time.Time                `json:"decided_at"`
}

// DecisionLog is an append-only store of expert decisions.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type DecisionLog interface {
	// Append records d. Returns ErrDecisionExists when a decision for the
	// same recommendation is already stored.
	Append(ctx context.Context, d Decision) error

	// Get returns the decision for a recommendation id.
	Get(ctx context.Context, recommendationID string) (Decision, bool, error)

	// List returns all decisions ordered by DecidedAt.
	List(ctx context.Context) ([]Decision, error)
}

// =============================================================================
// In-memory log
// =============================================================================

// MemoryDecisionLog keeps decisions in process memory.
type MemoryDecisionLog struct {
	mu   sync.RWMutex
	byID map[string]Decision
}

var _ DecisionLog = (*MemoryDecisionLog)(nil)

// NewMemoryDecisionLog creates an empty in-memory log.
func NewMemoryDecisionLog() *MemoryDecisionLog {
	return &MemoryDecisionLog{byID: make(map[string]Decision)}
}

func (l *MemoryDecisionLog) Append(_ context.Context, d Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[d.RecommendationID]; ok {
		return fmt.Errorf("%w: %s", ErrDecisionExists, d.RecommendationID)
	}
	l.byID[d.RecommendationID] = cloneDecision(d)
	return nil
}

func (l *MemoryDecisionLog) Get(_ context.Context, id string) (Decision, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byID[id]
	if !ok {
		return Decision{}, false, nil
	}
	return cloneDecision(d), true, nil
}

func (l *MemoryDecisionLog) List(_ context.Context) ([]Decision, error) {
	l.mu.RLock()
	out := make([]Decision, 0, len(l.byID))
	for _, d := range l.byID {
		out = append(out, cloneDecision(d))
	}
	l.mu.RUnlock()
	sortDecisions(out)
	return out, nil
}

// =============================================================================
// Badger-backed log
// =============================================================================

const decisionPrefix = "decision/"

// BadgerDecisionLog persists decisions as JSON in BadgerDB, one key per
// recommendation.
type BadgerDecisionLog struct {
	db *badgerstore.DB
}

var _ DecisionLog = (*BadgerDecisionLog)(nil)

// NewBadgerDecisionLog wraps an open database. The caller owns db.
func NewBadgerDecisionLog(db *badgerstore.DB) *BadgerDecisionLog {
	return &BadgerDecisionLog{db: db}
}

func (l *BadgerDecisionLog) Append(ctx context.Context, d Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	err = l.db.PutIfAbsent(ctx, []byte(decisionPrefix+d.RecommendationID), data)
	if errors.Is(err, badgerstore.ErrKeyExists) {
		return fmt.Errorf("%w: %s", ErrDecisionExists, d.RecommendationID)
	}
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

func (l *BadgerDecisionLog) Get(ctx context.Context, id string) (Decision, bool, error) {
	data, ok, err := l.db.Get(ctx, []byte(decisionPrefix+id))
	if err != nil || !ok {
		return Decision{}, false, err
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, false, fmt.Errorf("failed to decode decision %s: %w", id, err)
	}
	return d, true, nil
}

func (l *BadgerDecisionLog) List(ctx context.Context) ([]Decision, error) {
	var out []Decision
	err := l.db.ScanPrefix(ctx, []byte(decisionPrefix), func(key, value []byte) error {
		var d Decision
		if err := json.Unmarshal(value, &d); err != nil {
			return fmt.Errorf("failed to decode decision %s: %w", key, err)
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortDecisions(out)
	return out, nil
}

func cloneDecision(d Decision) Decision {
	d.Recommendation = d.Recommendation.Clone()
	return d
}

func sortDecisions(ds []Decision) {
	sort.SliceStable(ds, func(i, j int) bool {
		if !ds[i].DecidedAt.Equal(ds[j].DecidedAt) {
			return ds[i].DecidedAt.Before(ds[j].DecidedAt)
		}
		return ds[i].RecommendationID < ds[j].RecommendationID
	})
}
