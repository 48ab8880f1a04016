// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sidecar wires the validation stages into one request pipeline.
//
// # Description
//
// A request flows through:
//
//	sanitize -> {rulebook evaluation, model advice} -> rule validation ->
//	trust scoring -> logic guard -> validation routing -> personalize
//
// Rulebook evaluation and the model call run concurrently. Everything
// between sanitize and personalize only ever sees synthetic identifiers.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/llm"
	"github.com/AleutianAI/SidecarIntelligence/services/logic_guard"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/observability"
	"github.com/AleutianAI/SidecarIntelligence/services/pii_gateway"
	"github.com/AleutianAI/SidecarIntelligence/services/rulebook"
	"github.com/AleutianAI/SidecarIntelligence/services/trust_scorer"
	"github.com/AleutianAI/SidecarIntelligence/services/validation_router"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("sidecar.pipeline")

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid recommendation request")

// DefaultModelTimeout bounds one model advisor call.
const DefaultModelTimeout = 20 * time.Second

// Notes added by the pipeline itself.
const (
	noteModelUnavailable = "Model advice unavailable: rules-only recommendations"
	noteModelRateLimited = "Model advice skipped (rate limited): rules-only recommendations"
)

// Dependencies are the stages a Pipeline runs. Gateway, Rules, Guard and
// Router are required.
type Dependencies struct {
	Gateway *pii_gateway.Gateway
	Rules   rulebook.Source
	Catalog *trust_scorer.Catalog
	Guard   *logic_guard.Guard
	Router  *validation_router.Router

	// Advisor defaults to llm.NopAdvisor (rules-only).
	Advisor llm.Advisor
	// ModelTimeout defaults to DefaultModelTimeout.
	ModelTimeout time.Duration

	Audit   extensions.AuditLogger
	Metrics *observability.SidecarMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Requests        int64                          `json:"requests"`
	Failures        int64                          `json:"failures"`
	ByTier          map[string]int64               `json:"by_tier"`
	Guard           logic_guard.Stats              `json:"guard"`
	Queue           validation_router.QueueSummary `json:"queue"`
	RulebookVersion string                         `json:"rulebook_version"`
}

// Pipeline runs one recommendation request end to end.
//
// # Thread Safety
//
// Safe for concurrent use. Per-request state lives on the stack; the only
// shared mutable state is owned by the gateway's token store and the
// router's queue.
type Pipeline struct {
	gateway      *pii_gateway.Gateway
	rules        rulebook.Source
	catalog      *trust_scorer.Catalog
	guard        *logic_guard.Guard
	router       *validation_router.Router
	advisor      llm.Advisor
	modelTimeout time.Duration
	audit        extensions.AuditLogger
	metrics      *observability.SidecarMetrics
	logger       *slog.Logger
	now          func() time.Time

	requests atomic.Int64
	failures atomic.Int64
	byTier   map[datatypes.Tier]*atomic.Int64
}

// New creates a pipeline.
//
// # Outputs
//
//   - *Pipeline: Ready pipeline.
//   - error: Non-nil if a required stage is missing.
func New(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("sidecar pipeline: PII gateway is required")
	case deps.Rules == nil:
		return nil, errors.New("sidecar pipeline: rulebook is required")
	case deps.Guard == nil:
		return nil, errors.New("sidecar pipeline: logic guard is required")
	case deps.Router == nil:
		return nil, errors.New("sidecar pipeline: validation router is required")
	}
	if deps.Advisor == nil {
		deps.Advisor = llm.NopAdvisor{}
	}
	if deps.ModelTimeout <= 0 {
		deps.ModelTimeout = DefaultModelTimeout
	}
	if deps.Audit == nil {
		deps.Audit = &extensions.NopAuditLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	byTier := make(map[datatypes.Tier]*atomic.Int64, 3)
	for _, t := range []datatypes.Tier{datatypes.TierAutomatic, datatypes.TierAsyncReview, datatypes.TierSyncReview} {
		byTier[t] = new(atomic.Int64)
	}
	return &Pipeline{
		gateway:      deps.Gateway,
		rules:        deps.Rules,
		catalog:      deps.Catalog,
		guard:        deps.Guard,
		router:       deps.Router,
		advisor:      deps.Advisor,
		modelTimeout: deps.ModelTimeout,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("component", "sidecar_pipeline"),
		now:          deps.Now,
		byTier:       byTier,
	}, nil
}

// Router returns the validation router.
func (p *Pipeline) Router() *validation_router.Router { return p.router }

// Rules returns the rulebook source.
func (p *Pipeline) Rules() rulebook.Source { return p.rules }

// Process runs the full pipeline for one request.
//
// # Description
//
// Only malformed requests, a duplicate in-flight request id and
// personalization failures are errors. Missing context data, missing rule
// coverage, model failures and guard blocks all degrade into lower
// confidence, notes or fewer recommendations.
//
// # Inputs
//
//   - ctx: Request context.
//   - req: Raw request including real identifiers. Not modified.
//
// # Outputs
//
//   - *datatypes.SidecarResponse: Personalized response.
//   - error: ErrInvalidRequest, pii_gateway.ErrRequestInFlight,
//     pii_gateway.ErrTokenStoreFull, or a personalization error.
func (p *Pipeline) Process(ctx context.Context, req datatypes.RecommendationRequest) (*datatypes.SidecarResponse, error) {
	resp, err := p.process(ctx, req)
	p.requests.Add(1)
	if err != nil {
		p.failures.Add(1)
	}
	p.metrics.RecordRequest(err == nil)
	return resp, err
}

func (p *Pipeline) process(ctx context.Context, req datatypes.RecommendationRequest) (*datatypes.SidecarResponse, error) {
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ctx, span := tracer.Start(ctx, "Pipeline.Process", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("sidecar.request_id", req.RequestID))

	now := p.now()
	query := req.Query
	if query == "" {
		query = req.Context.User.Query
	}

	// 1. Sanitize.
	stageStart := time.Now()
	raw := req.Context
	raw.User.Query = query
	sanitized, err := p.gateway.SanitizeContext(ctx, req.RequestID, req.Identifiers, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.metrics.ObserveStage("sanitize", stageStart)
	p.recordPII(sanitized.Counts)
	personalized := false
	defer func() {
		if !personalized {
			p.gateway.Store().Discard(req.RequestID)
		}
	}()

	// Rules and the guard run locally on the full context; only the
	// sanitized copy is handed to the model.
	farm := datatypes.NewFarmContext(req.Context, now).WithQuery(sanitized.Text)
	modelFarm := datatypes.NewFarmContext(sanitized.Context, now)
	rb := p.rules.Current()

	// 2. Rulebook evaluation and model advice, concurrently.
	stageStart = time.Now()
	triggered, suggestions, notes := p.gather(ctx, req.RequestID, rb, farm, modelFarm)
	p.metrics.ObserveStage("evaluate", stageStart)

	candidates, mergeNotes := mergeCandidates(rb, farm, triggered, suggestions)
	notes = append(notes, mergeNotes...)

	// 3 + 4. Rule validation and trust scoring.
	stageStart = time.Now()
	scorer := trust_scorer.New(rb, p.catalog)
	scored := make(map[string]datatypes.DeliveredRecommendation, len(candidates))
	recs := make([]datatypes.Recommendation, 0, len(candidates))
	for _, rec := range candidates {
		d, recNotes := score(scorer, rec, triggered, farm)
		notes = append(notes, recNotes...)
		scored[d.ID] = d
		recs = append(recs, d.Recommendation)
	}
	p.metrics.ObserveStage("score", stageStart)

	// 5. Logic guard.
	stageStart = time.Now()
	report := p.guard.ValidateWithReport(recs, farm)
	notes = append(notes, p.recordGuard(ctx, req.RequestID, report)...)
	p.metrics.ObserveStage("guard", stageStart)

	kept := make([]datatypes.DeliveredRecommendation, 0, len(report.Kept))
	for _, rec := range report.Kept {
		d := scored[rec.ID]
		d.Recommendation = rec
		kept = append(kept, d)
	}

	// 6. Validation routing.
	stageStart = time.Now()
	delivered := p.router.Route(ctx, req.RequestID, farm, kept)
	for _, d := range delivered {
		if c, ok := p.byTier[d.Tier]; ok {
			c.Add(1)
		}
		p.metrics.RecordRecommendation(string(d.Tier))
	}
	p.metrics.SetQueueDepth(p.router.Queue().Len())
	p.metrics.ObserveStage("route", stageStart)

	resp := &datatypes.SidecarResponse{
		FarmID:          sanitized.FarmID,
		RequestID:       req.RequestID,
		Recommendations: delivered,
		Notes:           dedupe(notes),
		Overrides:       report.Blocked,
		GeneratedAt:     now.UTC(),
	}
	resp.OverallConfidence, resp.RulebookValidationScore = means(delivered)

	// 7. Personalize.
	stageStart = time.Now()
	out, err := p.gateway.Personalize(ctx, req.RequestID, resp, req.Identifiers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	personalized = true
	p.metrics.ObserveStage("personalize", stageStart)

	span.SetAttributes(
		attribute.Int("sidecar.recommendations", len(out.Recommendations)),
		attribute.Int("sidecar.overrides", out.Overrides))
	p.logger.Info("Recommendation request processed",
		"request_id", req.RequestID,
		"recommendations", len(out.Recommendations),
		"overrides", out.Overrides,
		"overall_confidence", out.OverallConfidence)
	return out, nil
}

// gather evaluates the rulebook against farm and asks the model about
// modelFarm in parallel. Model failures never fail the request; they add a
// note instead.
func (p *Pipeline) gather(ctx context.Context, requestID string, rb *rulebook.Rulebook, farm, modelFarm datatypes.FarmContext) ([]rulebook.Rule, []datatypes.Recommendation, []string) {
	var (
		triggered   []rulebook.Rule
		suggestions []datatypes.Recommendation
		notes       []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, span := tracer.Start(gctx, "Rulebook.Evaluate")
		defer span.End()
		triggered = rb.TriggeredRules(farm)
		span.SetAttributes(attribute.Int("rulebook.triggered", len(triggered)))
		return nil
	})
	g.Go(func() error {
		if _, ok := p.advisor.(llm.NopAdvisor); ok {
			return nil
		}
		known := make(map[string]datatypes.Category)
		for _, r := range rb.ApplicableRules(farm) {
			known[r.ID] = r.Category
		}
		mctx, cancel := context.WithTimeout(gctx, p.modelTimeout)
		defer cancel()

		recs, err := p.advisor.Suggest(mctx, llm.AdviceRequest{
			RequestID: requestID,
			Context:   modelFarm,
			Query:     modelFarm.User.Query,
			Rules:     known,
		})
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			p.metrics.RecordModelCall(observability.ModelRateLimited)
			notes = append(notes, noteModelRateLimited)
		case err != nil:
			p.metrics.RecordModelCall(observability.ModelError)
			p.logger.Warn("Model advice failed, continuing rules-only",
				"request_id", requestID,
				"error", err)
			notes = append(notes, noteModelUnavailable)
		default:
			p.metrics.RecordModelCall(observability.ModelSuccess)
			suggestions = recs
		}
		return nil
	})
	_ = g.Wait()
	return triggered, suggestions, notes
}

// recordGuard emits metrics, audit events and notes for guard outcomes.
func (p *Pipeline) recordGuard(ctx context.Context, requestID string, report logic_guard.Report) []string {
	var notes []string
	for _, o := range report.Outcomes {
		p.metrics.RecordGuardAction(o.RuleID, string(o.Action))
		switch o.Action {
		case logic_guard.ActionBlock:
			notes = append(notes, fmt.Sprintf("Withheld by safety rule %s: %s", o.RuleID, o.Message))
		case logic_guard.ActionModify:
			notes = append(notes, fmt.Sprintf("Adjusted by safety rule %s: %s", o.RuleID, o.Message))
		case logic_guard.ActionWarn:
			notes = append(notes, fmt.Sprintf("Safety warning %s: %s", o.RuleID, o.Message))
		}

		outcome := map[logic_guard.Action]string{
			logic_guard.ActionBlock:  "blocked",
			logic_guard.ActionModify: "modified",
			logic_guard.ActionWarn:   "success",
		}[o.Action]
		if err := p.audit.Log(ctx, extensions.AuditEvent{
			EventType:    "guard." + string(o.Action),
			UserID:       validation_router.SystemReviewer,
			Action:       string(o.Action),
			ResourceType: "recommendation",
			ResourceID:   o.RecommendationID,
			Outcome:      outcome,
			Metadata: extensions.NewMetadata().
				Set("request_id", requestID).
				Set("rule_id", o.RuleID),
		}); err != nil {
			p.logger.Warn("Failed to write guard audit event",
				"request_id", requestID,
				"error", err)
		}
	}
	return notes
}

func (p *Pipeline) recordPII(counts map[pii_gateway.PIIType]int) {
	if len(counts) == 0 {
		return
	}
	byType := make(map[string]int, len(counts))
	for typ, n := range counts {
		byType[string(typ)] = n
	}
	p.metrics.RecordPIIDetections(byType)
}

// Stats returns pipeline, guard and queue counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Requests:        p.requests.Load(),
		Failures:        p.failures.Load(),
		ByTier:          make(map[string]int64, len(p.byTier)),
		Guard:           p.guard.Stats(),
		Queue:           p.router.Queue().Summary(),
		RulebookVersion: p.rules.Current().Version(),
	}
	for t, c := range p.byTier {
		s.ByTier[string(t)] = c.Load()
	}
	return s
}
