// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQueryBytes bounds the free-text query accepted by the pipeline.
const MaxQueryBytes = 8192

// sidecarValidate is the validator instance for sidecar request types.
var sidecarValidate = validator.New()

// =============================================================================
// Request Types
// =============================================================================

// RawIdentifiers are the real identifiers supplied by the calling collaborator.
//
// # Description
//
// These values never leave the trust boundary. The PII gateway replaces
// FarmerID and FarmID with synthetic identifiers unconditionally, and the
// remaining fields are tokenized wherever they appear in free text.
//
// # Validation
//
//   - FarmerID: required
//   - FarmID: required
//   - Email: optional, must be a valid address when present
type RawIdentifiers struct {
	FarmerID    string `json:"farmer_id" validate:"required,max=128"`
	FarmID      string `json:"farm_id" validate:"required,max=128"`
	DisplayName string `json:"display_name,omitempty" validate:"max=256"`
	Phone       string `json:"phone,omitempty" validate:"max=64"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// RecommendationRequest is the inbound payload for one pipeline run.
//
// # Validation
//
// Uses go-playground/validator:
//   - RequestID: optional, must be a UUID when present
//   - Identifiers: validated recursively (farmer and farm ids required)
//   - Query: at most MaxQueryBytes
type RecommendationRequest struct {
	RequestID   string         `json:"request_id,omitempty" validate:"omitempty,uuid"`
	Identifiers RawIdentifiers `json:"identifiers"`
	Context     FarmContext    `json:"context"`
	Query       string         `json:"query,omitempty" validate:"max=8192"`
}

// Validate validates the request fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, naming the offending field.
func (r *RecommendationRequest) Validate() error {
	return sidecarValidate.Struct(r)
}

// EnsureDefaults generates a RequestID when the caller supplied none.
func (r *RecommendationRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
}

// =============================================================================
// Validation Tiers
// =============================================================================

// Tier is the level of human oversight a recommendation requires.
type Tier string

const (
	TierUnclassified Tier = "unclassified"
	TierAutomatic    Tier = "automatic"
	TierAsyncReview  Tier = "async_review"
	TierSyncReview   Tier = "sync_review"
)

// Badge is the user-facing validation marker attached to a delivered
// recommendation.
type Badge string

const (
	BadgeRuleBased        Badge = "rule_based"
	BadgePendingReview    Badge = "pending_review"
	BadgeRequiresApproval Badge = "requires_approval"
	BadgeExpertVerified   Badge = "expert_verified"
	BadgeRejected         Badge = "rejected"
)

// ReviewStatus is the lifecycle state of a recommendation's validation.
type ReviewStatus string

const (
	StatusAutomatic ReviewStatus = "automatic"
	StatusPending   ReviewStatus = "pending"
	StatusVerified  ReviewStatus = "verified"
	StatusRejected  ReviewStatus = "rejected"
	StatusExpired   ReviewStatus = "expired"
)

// =============================================================================
// Citations
// =============================================================================

// CitationType classifies what backs a recommendation.
type CitationType string

const (
	CitationRule        CitationType = "rule"
	CitationGuideline   CitationType = "guideline"
	CitationGovernment  CitationType = "government_standard"
	CitationResearch    CitationType = "research"
	CitationExpert      CitationType = "expert"
	CitationObservation CitationType = "observation"
)

// Citation is a reference to a source backing a recommendation.
type Citation struct {
	ID          string       `json:"id" yaml:"id" validate:"required"`
	Type        CitationType `json:"type" yaml:"type" validate:"required"`
	Title       string       `json:"title" yaml:"title" validate:"required"`
	Source      string       `json:"source,omitempty" yaml:"source"`
	Year        int          `json:"year,omitempty" yaml:"year"`
	URL         string       `json:"url,omitempty" yaml:"url" validate:"omitempty,url"`
	Region      string       `json:"region,omitempty" yaml:"region"`
	Reliability float64      `json:"reliability" yaml:"reliability" validate:"gte=0,lte=1"`
}

// =============================================================================
// Response Types
// =============================================================================

// DeliveredRecommendation is a recommendation as the end user receives it.
//
// # Description
//
// Exactly one of three states holds for every delivered recommendation:
//   - Tier automatic: IsValidated true, Badge rule_based
//   - Tier async_review: IsValidated false, Badge pending_review, provisional confidence
//   - Tier sync_review: IsValidated false, Badge requires_approval, Confidence 0
type DeliveredRecommendation struct {
	Recommendation
	Tier            Tier       `json:"tier"`
	Badge           Badge      `json:"badge"`
	IsValidated     bool       `json:"is_validated"`
	QueueItemID     string     `json:"queue_item_id,omitempty"`
	ValidationScore float64    `json:"validation_score"`
	TrustLevel      string     `json:"trust_level,omitempty"`
	Citations       []Citation `json:"citations,omitempty"`
}

// SidecarResponse is the pipeline's final output.
//
// # Fields
//
//   - FarmID: Real farm identifier, re-attached by the PII gateway.
//   - RequestID: Correlates with audit and queue records.
//   - Recommendations: Ordered delivered recommendations.
//   - OverallConfidence: Mean delivered confidence (0 when empty).
//   - RulebookValidationScore: Mean rule-validator score (0 when empty).
//   - Notes: Validation notes, warnings and caveats.
//   - Overrides: Number of recommendations withheld by the Logic Guard.
type SidecarResponse struct {
	FarmID                  string                    `json:"farm_id"`
	RequestID               string                    `json:"request_id"`
	Recommendations         []DeliveredRecommendation `json:"recommendations"`
	OverallConfidence       float64                   `json:"overall_confidence"`
	RulebookValidationScore float64                   `json:"rulebook_validation_score"`
	Notes                   []string                  `json:"notes"`
	Overrides               int                       `json:"overrides"`
	GeneratedAt             time.Time                 `json:"generated_at"`
}

// Clone returns a deep copy of the response.
func (r *SidecarResponse) Clone() *SidecarResponse {
	out := *r
	out.Recommendations = make([]DeliveredRecommendation, len(r.Recommendations))
	for i, d := range r.Recommendations {
		d.Recommendation = d.Recommendation.Clone()
		if d.Citations != nil {
			d.Citations = append([]Citation(nil), d.Citations...)
		}
		out.Recommendations[i] = d
	}
	out.Notes = append([]string(nil), r.Notes...)
	return &out
}
