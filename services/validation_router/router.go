// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation_router decides how much human oversight each
// recommendation needs, keeps the expert review queue and records expert
// decisions.
package validation_router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/google/uuid"
)

var (
	// ErrQueueItemNotFound is returned for a decision on an unknown queue
	// item. It indicates a caller bug.
	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrAlreadyResolved is returned for a decision on an item that was
	// already decided or expired.
	ErrAlreadyResolved = errors.New("queue item already resolved")

	// ErrRecommendationNotFound is returned by Status for an unknown id.
	ErrRecommendationNotFound = errors.New("recommendation not found")
)

// DefaultRetention is how long automatic deliveries and closed queue ids stay
// queryable.
const DefaultRetention = 7 * 24 * time.Hour

// DecisionRequest is an expert's verdict on a queue item.
//
// AdjustedConfidence, when set, replaces the confidence of the recorded
// recommendation.
type DecisionRequest struct {
	QueueItemID        string   `json:"queue_item_id" validate:"required"`
	ReviewerID         string   `json:"reviewer_id"`
	Approve            bool     `json:"approve"`
	Comment            string   `json:"comment,omitempty" validate:"max=2048"`
	AdjustedConfidence *float64 `json:"adjusted_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// StatusReport describes where a recommendation is in its lifecycle.
//
// Recommendation is set only for content a user may act on: automatic or
// verified.
type StatusReport struct {
	RecommendationID string                    `json:"recommendation_id"`
	Status           datatypes.ReviewStatus    `json:"status"`
	Tier             datatypes.Tier            `json:"tier"`
	QueueItemID      string                    `json:"queue_item_id,omitempty"`
	Recommendation   *datatypes.Recommendation `json:"recommendation,omitempty"`
	Decision         *Decision                 `json:"decision,omitempty"`
}

type automaticEntry struct {
	rec datatypes.Recommendation
	at  time.Time
}

// Router classifies recommendations and owns the review queue.
//
// # Description
//
// Route never blocks on a human: Async-Review items are delivered at once
// with a pending badge and a confidence penalty, Sync-Review items with
// confidence 0 and a requires-approval badge. The verdict arrives later via
// Decide.
//
// # Thread Safety
//
// Safe for concurrent use. Queue mutations are linearizable per item.
type Router struct {
	policy    Policy
	rules     rulebook.Source
	queue     *Queue
	reviewers *Registry
	decisions DecisionLog
	audit     extensions.AuditLogger
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration

	autoMu    sync.RWMutex
	automatic map[string]automaticEntry
}

// Options bundles the Router's collaborators. Nil fields get defaults.
type Options struct {
	Queue     *Queue
	Reviewers *Registry
	Decisions DecisionLog
	Audit     extensions.AuditLogger
	Logger    *slog.Logger
	Retention time.Duration
	Now       func() time.Time
}

// New creates a router.
//
// # Inputs
//
//   - policy: Routing thresholds; must pass Validate.
//   - rules: Source of the pre-approved rule set.
//   - opts: Collaborators; nil fields default to an in-memory queue,
//     registry and decision log, a no-op audit sink and slog.Default.
//
// # Outputs
//
//   - *Router: Ready router.
//   - error: Non-nil if the policy is invalid.
func New(policy Policy, rules rulebook.Source, opts Options) (*Router, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing policy: %w", err)
	}
	if opts.Queue == nil {
		opts.Queue = NewQueue(5 * time.Second)
	}
	if opts.Reviewers == nil {
		opts.Reviewers = NewRegistry()
	}
	if opts.Decisions == nil {
		opts.Decisions = NewMemoryDecisionLog()
	}
	if opts.Audit == nil {
		opts.Audit = &extensions.NopAuditLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		policy:    policy,
		rules:     rules,
		queue:     opts.Queue,
		reviewers: opts.Reviewers,
		decisions: opts.Decisions,
		audit:     opts.Audit,
		logger:    opts.Logger.With("component", "validation_router"),
		now:       opts.Now,
		retention: opts.Retention,
		automatic: make(map[string]automaticEntry),
	}, nil
}

// Policy returns the routing policy.
func (r *Router) Policy() Policy { return r.policy }

// Queue returns the review queue.
func (r *Router) Queue() *Queue { return r.queue }

// Reviewers returns the reviewer registry.
func (r *Router) Reviewers() *Registry { return r.reviewers }

// Decisions returns the decision log.
func (r *Router) Decisions() DecisionLog { return r.decisions }

// Classify returns the tier for rec against the current pre-approved set.
func (r *Router) Classify(rec datatypes.Recommendation) datatypes.Tier {
	pre := rec.RuleID != "" && r.rules.Current().IsPreApproved(rec.RuleID)
	return r.policy.Classify(rec, pre)
}

// Route assigns a tier to every candidate and returns the delivered copies.
//
// # Description
//
// Candidates carry the scored recommendation plus validation score, trust
// level and citations. Route sets Tier, Badge, IsValidated, QueueItemID and
// the delivered Confidence:
//
//   - Automatic: validated, badge rule_based, confidence unchanged.
//   - Async-Review: queued, badge pending_review, confidence * AsyncPenalty.
//   - Sync-Review: queued, badge requires_approval, confidence 0.
//
// A queued item is assigned to the first matching reviewer; with no match it
// stays unassigned but queued.
//
// # Inputs
//
//   - ctx: Used for audit logging only.
//   - requestID: Correlation id recorded on queue items.
//   - farm: Request context; its region drives reviewer matching.
//   - candidates: Not modified.
//
// # Outputs
//
//   - []datatypes.DeliveredRecommendation: Same order as candidates.
func (r *Router) Route(ctx context.Context, requestID string, farm datatypes.FarmContext, candidates []datatypes.DeliveredRecommendation) []datatypes.DeliveredRecommendation {
	out := make([]datatypes.DeliveredRecommendation, 0, len(candidates))
	now := r.now()

	for _, c := range candidates {
		d := c
		d.Recommendation = c.Recommendation.Clone()
		d.Tier = r.Classify(d.Recommendation)

		switch d.Tier {
		case datatypes.TierAutomatic:
			d.Badge = datatypes.BadgeRuleBased
			d.IsValidated = true
			r.autoMu.Lock()
			r.automatic[d.ID] = automaticEntry{rec: d.Recommendation.Clone(), at: now}
			r.autoMu.Unlock()

		default:
			item := QueueItem{
				ID:             uuid.NewString(),
				RequestID:      requestID,
				Recommendation: d.Recommendation.Clone(),
				Tier:           d.Tier,
				Priority:       r.policy.Priority(d.Recommendation),
				Region:         farm.Farm.Region,
				AssignedTo:     r.reviewers.FindMatch(d.Category, farm.Farm.Region),
				CreatedAt:      now,
				ExpiresAt:      now.Add(r.policy.TTL(d.Tier)),
			}
			r.queue.add(item)
			d.QueueItemID = item.ID
			d.IsValidated = false
			if d.Tier == datatypes.TierSyncReview {
				d.Badge = datatypes.BadgeRequiresApproval
				d.Confidence = 0
			} else {
				d.Badge = datatypes.BadgePendingReview
				d.Confidence = d.Confidence * r.policy.AsyncPenalty
			}

			if item.AssignedTo == "" {
				r.logger.Warn("No reviewer matches queue item",
					"queue_item_id", item.ID,
					"category", string(item.Recommendation.Category),
					"request_id", requestID)
			}
			r.logAudit(ctx, extensions.AuditEvent{
				EventType:    "review.enqueued",
				UserID:       SystemReviewer,
				Action:       string(d.Tier),
				ResourceType: "queue_item",
				ResourceID:   item.ID,
				Outcome:      "success",
				Metadata: extensions.NewMetadata().
					Set("request_id", requestID).
					Set("recommendation_id", d.ID).
					Set("priority", item.Priority).
					Set("assigned_to", item.AssignedTo),
			})
		}
		out = append(out, d)
	}
	return out
}

// Decide records an expert verdict on a queue item.
//
// # Description
//
// Under the item's lock: the decision is appended to the immutable log, the
// item leaves the active queue and the assigned reviewer's approval rate is
// updated. Unassigned items credit the deciding reviewer instead. An
// AdjustedConfidence overrides the confidence of the recorded recommendation.
//
// # Outputs
//
//   - Decision: The recorded decision.
//   - error: ErrQueueItemNotFound for an unknown id, ErrAlreadyResolved for a
//     decided or expired item, or a decision log error.
func (r *Router) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	e, ok := r.queue.entry(req.QueueItemID)
	if !ok {
		if r.queue.wasClosed(req.QueueItemID) {
			return Decision{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, req.QueueItemID)
		}
		return Decision{}, fmt.Errorf("%w: %s", ErrQueueItemNotFound, req.QueueItemID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return Decision{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, req.QueueItemID)
	}

	outcome := datatypes.StatusRejected
	if req.Approve {
		outcome = datatypes.StatusVerified
	}
	d := Decision{
		RecommendationID: e.item.Recommendation.ID,
		QueueItemID:      e.item.ID,
		RequestID:        e.item.RequestID,
		ReviewerID:       req.ReviewerID,
		AssignedTo:       e.item.AssignedTo,
		Tier:             e.item.Tier,
		Outcome:          outcome,
		Comment:          req.Comment,
		Recommendation:   e.item.Recommendation.Clone(),
		DecidedAt:        r.now(),
	}
	if req.AdjustedConfidence != nil {
		d.Recommendation.Confidence = *req.AdjustedConfidence
	}
	if err := r.decisions.Append(ctx, d); err != nil {
		if errors.Is(err, ErrDecisionExists) {
			e.resolved = true
			r.queue.remove(e, d.DecidedAt)
			return Decision{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, req.QueueItemID)
		}
		return Decision{}, err
	}
	e.resolved = true
	r.queue.remove(e, d.DecidedAt)
	credited := e.item.AssignedTo
	if credited == "" {
		credited = req.ReviewerID
	}
	r.reviewers.RecordDecision(credited, req.Approve)

	r.logger.Info("Expert decision recorded",
		"queue_item_id", d.QueueItemID,
		"recommendation_id", d.RecommendationID,
		"outcome", string(outcome),
		"reviewer_id", d.ReviewerID)
	r.logAudit(ctx, extensions.AuditEvent{
		EventType:    "review.decision",
		UserID:       req.ReviewerID,
		Action:       string(outcome),
		ResourceType: "recommendation",
		ResourceID:   d.RecommendationID,
		Outcome:      "success",
		Metadata:     extensions.NewMetadata().Set("queue_item_id", d.QueueItemID),
	})
	return d, nil
}

// Status reports the validation state of a recommendation.
//
// # Outputs
//
//   - StatusReport: Current state.
//   - error: ErrRecommendationNotFound when the id is unknown, or a
//     decision log error.
func (r *Router) Status(ctx context.Context, recID string) (StatusReport, error) {
	if item, ok := r.queue.ByRecommendation(recID); ok {
		return StatusReport{
			RecommendationID: recID,
			Status:           datatypes.StatusPending,
			Tier:             item.Tier,
			QueueItemID:      item.ID,
		}, nil
	}

	d, ok, err := r.decisions.Get(ctx, recID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("failed to read decision log: %w", err)
	}
	if ok {
		rep := StatusReport{
			RecommendationID: recID,
			Status:           d.Outcome,
			Tier:             d.Tier,
			QueueItemID:      d.QueueItemID,
			Decision:         &d,
		}
		if d.Outcome == datatypes.StatusVerified {
			rec := d.Recommendation.Clone()
			rep.Recommendation = &rec
		}
		return rep, nil
	}

	r.autoMu.RLock()
	a, ok := r.automatic[recID]
	r.autoMu.RUnlock()
	if ok {
		rec := a.rec.Clone()
		return StatusReport{
			RecommendationID: recID,
			Status:           datatypes.StatusAutomatic,
			Tier:             datatypes.TierAutomatic,
			Recommendation:   &rec,
		}, nil
	}
	return StatusReport{}, fmt.Errorf("%w: %s", ErrRecommendationNotFound, recID)
}

// Name identifies the router to the TTL sweeper.
func (r *Router) Name() string { return "review_queue" }

// EvictExpired closes queue items past their expiry.
//
// # Description
//
// Each expired item is recorded in the decision log as expired by
// SystemReviewer; reviewer statistics are not touched. Automatic deliveries
// and closed-id markers older than the retention window are forgotten.
//
// # Outputs
//
//   - int: Number of queue items expired.
//   - error: The first decision log error; remaining items are still
//     processed.
func (r *Router) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	var firstErr error
	expired := 0
	for _, it := range r.queue.all() {
		if now.Before(it.ExpiresAt) {
			continue
		}
		e, ok := r.queue.entry(it.ID)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.resolved {
			e.mu.Unlock()
			continue
		}
		d := Decision{
			RecommendationID: e.item.Recommendation.ID,
			QueueItemID:      e.item.ID,
			RequestID:        e.item.RequestID,
			ReviewerID:       SystemReviewer,
			AssignedTo:       e.item.AssignedTo,
			Tier:             e.item.Tier,
			Outcome:          datatypes.StatusExpired,
			Recommendation:   e.item.Recommendation.Clone(),
			DecidedAt:        now,
		}
		err := r.decisions.Append(ctx, d)
		if err != nil && !errors.Is(err, ErrDecisionExists) {
			e.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.resolved = true
		r.queue.remove(e, now)
		e.mu.Unlock()
		expired++

		r.logAudit(ctx, extensions.AuditEvent{
			EventType:    "review.expired",
			UserID:       SystemReviewer,
			Action:       "expire",
			ResourceType: "queue_item",
			ResourceID:   d.QueueItemID,
			Outcome:      "expired",
			Metadata:     extensions.NewMetadata().Set("recommendation_id", d.RecommendationID),
		})
	}

	cutoff := now.Add(-r.retention)
	r.autoMu.Lock()
	for id, a := range r.automatic {
		if a.at.Before(cutoff) {
			delete(r.automatic, id)
		}
	}
	r.autoMu.Unlock()
	r.queue.forgetClosed(cutoff)

	if expired > 0 {
		r.logger.Info("Expired review items closed", "count", expired)
	}
	return expired, firstErr
}

func (r *Router) logAudit(ctx context.Context, event extensions.AuditEvent) {
	if err := r.audit.Log(ctx, event); err != nil {
		r.logger.Warn("Failed to write audit event",
			"event_type", event.EventType,
			"error", err)
	}
}
