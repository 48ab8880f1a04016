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
	"fmt"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
)

// Routing defaults.
const (
	DefaultAutoConfidence       = 0.90
	DefaultPermissiveConfidence = 0.85
	DefaultAsyncPenalty         = 0.9
	DefaultAsyncTTL             = 72 * time.Hour
	DefaultSyncTTL              = 24 * time.Hour

	BasePriority = 5
	MinPriority  = 1
	MaxPriority  = 10
)

// Policy holds the routing thresholds and category sets.
//
// # Fields
//
//   - AutoConfidence: Minimum confidence for a pre-approved rule to be
//     delivered automatically.
//   - PermissiveConfidence: Minimum confidence for a rule-based
//     recommendation in a Permissive category.
//   - AsyncPenalty: Multiplier on delivered confidence while an async review
//     is pending.
//   - HardSafety: Categories that always need synchronous approval.
//   - Permissive: Categories eligible for rule-based auto-approval.
//   - Critical: Categories that raise queue priority.
//   - AsyncTTL, SyncTTL: Queue item lifetime per tier.
type Policy struct {
	AutoConfidence       float64
	PermissiveConfidence float64
	AsyncPenalty         float64
	HardSafety           []datatypes.Category
	Permissive           []datatypes.Category
	Critical             []datatypes.Category
	AsyncTTL             time.Duration
	SyncTTL              time.Duration
}

// DefaultPolicy returns the production routing policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoConfidence:       DefaultAutoConfidence,
		PermissiveConfidence: DefaultPermissiveConfidence,
		AsyncPenalty:         DefaultAsyncPenalty,
		HardSafety: []datatypes.Category{
			datatypes.CategoryPesticide,
			datatypes.CategoryChemical,
			datatypes.CategoryEmergency,
		},
		Permissive: []datatypes.Category{
			datatypes.CategoryIrrigation,
			datatypes.CategoryHarvest,
			datatypes.CategorySoil,
			datatypes.CategoryWeather,
		},
		Critical: []datatypes.Category{
			datatypes.CategoryEmergency,
		},
		AsyncTTL: DefaultAsyncTTL,
		SyncTTL:  DefaultSyncTTL,
	}
}

// Validate checks thresholds and TTLs.
func (p Policy) Validate() error {
	if p.AutoConfidence < 0 || p.AutoConfidence > 1 {
		return fmt.Errorf("auto confidence %v outside [0,1]", p.AutoConfidence)
	}
	if p.PermissiveConfidence < 0 || p.PermissiveConfidence > 1 {
		return fmt.Errorf("permissive confidence %v outside [0,1]", p.PermissiveConfidence)
	}
	if p.AsyncPenalty <= 0 || p.AsyncPenalty > 1 {
		return fmt.Errorf("async penalty %v outside (0,1]", p.AsyncPenalty)
	}
	if p.AsyncTTL <= 0 || p.SyncTTL <= 0 {
		return fmt.Errorf("queue TTLs must be positive")
	}
	return nil
}

// Classify assigns the oversight tier.
//
// # Description
//
// A pure function of category, source, confidence and pre-approval:
//
//  1. Hard-safety category: Sync-Review, whatever the confidence.
//  2. Rule-based, pre-approved rule, confidence >= AutoConfidence: Automatic.
//  3. Rule-based, permissive category, confidence >= PermissiveConfidence:
//     Automatic.
//  4. Otherwise Async-Review.
//
// # Inputs
//
//   - rec: The recommendation (Category, Source and Confidence are read).
//   - preApproved: Whether rec.RuleID is in the pre-approved set.
func (p Policy) Classify(rec datatypes.Recommendation, preApproved bool) datatypes.Tier {
	if contains(p.HardSafety, rec.Category) {
		return datatypes.TierSyncReview
	}
	if rec.Source == datatypes.SourceRuleBased {
		if preApproved && rec.Confidence >= p.AutoConfidence {
			return datatypes.TierAutomatic
		}
		if contains(p.Permissive, rec.Category) && rec.Confidence >= p.PermissiveConfidence {
			return datatypes.TierAutomatic
		}
	}
	return datatypes.TierAsyncReview
}

// Priority computes the review queue priority in [MinPriority, MaxPriority].
//
// Base 5, +2 below 0.6 confidence, +1 below 0.75, +3 for a critical
// category or critical author priority. The bonuses are cumulative.
func (p Policy) Priority(rec datatypes.Recommendation) int {
	prio := BasePriority
	if rec.Confidence < 0.6 {
		prio += 2
	}
	if rec.Confidence < 0.75 {
		prio++
	}
	if contains(p.Critical, rec.Category) || rec.Priority == datatypes.PriorityCritical {
		prio += 3
	}
	return min(max(prio, MinPriority), MaxPriority)
}

// TTL returns the queue lifetime for tier.
func (p Policy) TTL(tier datatypes.Tier) time.Duration {
	if tier == datatypes.TierSyncReview {
		return p.SyncTTL
	}
	return p.AsyncTTL
}

func contains(set []datatypes.Category, c datatypes.Category) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}
