// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pii_gateway sanitizes inbound identifiers and free text before any
// inference request leaves the trust boundary, and re-identifies the final
// response for the authorized caller.
package pii_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/SidecarIntelligence/pkg/extensions"
	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

var (
	// ErrRequestNotFound is returned by Personalize for a request that was
	// never sanitized, was already personalized, or was evicted.
	ErrRequestNotFound = errors.New("pii gateway: request not found")

	// ErrRequestInFlight is returned by Sanitize when the request id already
	// has a live token entry.
	ErrRequestInFlight = errors.New("pii gateway: request id already in flight")

	// ErrTokenStoreFull is returned by Sanitize when the token store is at
	// capacity. The caller may retry once in-flight requests complete.
	ErrTokenStoreFull = errors.New("pii gateway: token store full")
)

// Fallback salutations used when the caller supplied no display name.
const (
	fallbackNameAz = "hörmətli fermer"
	fallbackNameEn = "dear farmer"
)

// Config configures a Gateway.
type Config struct {
	// PatternsPath overrides the embedded detection catalog.
	PatternsPath string
	// TokenTTL bounds how long an un-personalized entry is kept.
	TokenTTL time.Duration
	// MaxEntries bounds the token store.
	MaxEntries int
	// SecureMemory seals the audit pepper with memguard.
	SecureMemory bool
}

// Gateway is the single sanitize / personalize point of the sidecar.
//
// # Description
//
// Sanitize replaces explicit identifiers and every detected PII span with
// placeholders and synthetic ids; Personalize is the only place where the
// farmer's display name and real farm id are put back. Phone, e-mail and
// coordinate values are never re-attached.
//
// # Thread Safety
//
// Safe for concurrent use. Token entries are scoped per request id.
type Gateway struct {
	detector *Detector
	hasher   *Hasher
	store    *TokenStore
	audit    extensions.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a gateway.
//
// # Inputs
//
//   - cfg: Gateway configuration.
//   - audit: Audit sink; nil means no-op.
//   - logger: Logger; nil means slog.Default().
//
// # Outputs
//
//   - *Gateway: Ready gateway.
//   - error: Non-nil if the catalog is invalid or the pepper cannot be
//     allocated.
func New(cfg Config, audit extensions.AuditLogger, logger *slog.Logger) (*Gateway, error) {
	detector, err := LoadDetector(cfg.PatternsPath)
	if err != nil {
		return nil, err
	}
	hasher, err := NewHasher(cfg.SecureMemory)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		detector: detector,
		hasher:   hasher,
		store:    NewTokenStore(cfg.TokenTTL, cfg.MaxEntries),
		audit:    audit,
		logger:   logger.With("component", "pii_gateway"),
		now:      time.Now,
	}, nil
}

// Store exposes the token store for TTL eviction.
func (g *Gateway) Store() *TokenStore { return g.store }

// Detector exposes the detector for callers that only need scanning.
func (g *Gateway) Detector() *Detector { return g.detector }

// =============================================================================
// Sanitize
// =============================================================================

// Sanitize strips personal data from an inbound request.
//
// # Description
//
//  1. FarmerID and FarmID are replaced with freshly generated synthetic ids,
//     unconditionally. Literal occurrences in the text are swapped too.
//  2. The display name, phone and e-mail supplied explicitly are replaced
//     literally wherever they occur in the text.
//  3. The remaining text is scanned by the Detector; every match is replaced
//     by a category placeholder such as [PHONE_1]. Equal values share one
//     placeholder.
//
// Text detection is best effort: a missed pattern is not an error. Hashing
// failures degrade to an empty audit hash and never stop the request.
//
// # Inputs
//
//   - ctx: Context for audit logging.
//   - requestID: Request id; generated when empty.
//   - ids: Real identifiers. Never logged.
//   - text: Free-text query.
//
// # Outputs
//
//   - *SanitizedRequest: Data safe to send to inference.
//   - error: ErrRequestInFlight when requestID is already live,
//     ErrTokenStoreFull when the token store is at capacity.
func (g *Gateway) Sanitize(ctx context.Context, requestID string, ids datatypes.RawIdentifiers, text string) (*SanitizedRequest, error) {
	return g.sanitize(ctx, requestID, ids, datatypes.FarmContext{User: datatypes.UserQuery{Query: text}})
}

// SanitizeContext is Sanitize over a whole farm context.
//
// # Description
//
// The user query is sanitized exactly as Sanitize does and returned in Text.
// Every string under Extra, at any nesting depth, gets the same treatment.
// Extra values that are neither strings, numbers, flags, lists nor maps are
// dropped. The structured string fields (farm type, region, crops, livestock,
// crop stage, language) only get literal identifier replacement, so regional
// names are not mistaken for personal names.
//
// # Outputs
//
//   - *SanitizedRequest: Context holds the sanitized copy; farm is not
//     modified.
//   - error: ErrRequestInFlight when requestID is already live,
//     ErrTokenStoreFull when the token store is at capacity.
func (g *Gateway) SanitizeContext(ctx context.Context, requestID string, ids datatypes.RawIdentifiers, farm datatypes.FarmContext) (*SanitizedRequest, error) {
	return g.sanitize(ctx, requestID, ids, farm)
}

func (g *Gateway) sanitize(ctx context.Context, requestID string, ids datatypes.RawIdentifiers, farm datatypes.FarmContext) (*SanitizedRequest, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	out := &SanitizedRequest{
		RequestID: requestID,
		FarmerID:  syntheticID("farmer"),
		FarmID:    syntheticID("farm"),
		Counts:    make(map[PIIType]int),
	}
	s := &sanitizer{
		gateway:  g,
		ids:      ids,
		farmer:   out.FarmerID,
		farm:     out.FarmID,
		counters: make(map[PIIType]int),
		byValue:  make(map[string]int),
		now:      g.now().UTC(),
	}

	// Explicit identifiers first so their literal forms never reach the
	// pattern scan.
	text := s.replaceLiterals(farm.User.Query)
	s.recordIdentifier(TypeFarmerID, ids.FarmerID, out.FarmerID)
	s.recordIdentifier(TypeFarmID, ids.FarmID, out.FarmID)
	text = s.replaceDetected(text)

	out.Text = text
	out.Context = s.scrubContext(farm, text)
	out.Tokens = s.tokens
	for _, tok := range s.tokens {
		out.Counts[tok.Type] += tok.Occurrences
	}

	entry := &tokenEntry{
		tokens:          s.tokens,
		syntheticFarmer: out.FarmerID,
		syntheticFarm:   out.FarmID,
		createdAt:       s.now,
	}
	if err := g.store.put(requestID, entry); err != nil {
		if errors.Is(err, ErrTokenStoreFull) {
			g.logger.Warn("Token store full, rejecting request",
				"request_id", requestID,
				"in_flight", g.store.Len())
		}
		return nil, fmt.Errorf("%w: %s", err, requestID)
	}

	g.auditSummary(ctx, "pii.sanitized", requestID, s.tokens, out.Counts)
	g.logger.Debug("Request sanitized",
		"request_id", requestID,
		"detections", len(s.tokens))
	return out, nil
}

// sanitizer carries the per-call replacement state.
type sanitizer struct {
	gateway  *Gateway
	ids      datatypes.RawIdentifiers
	farmer   string
	farm     string
	counters map[PIIType]int
	byValue  map[string]int
	tokens   []PIIToken
	now      time.Time
}

// placeholderFor returns the placeholder for value, allocating a numbered one
// on first sight. fixed, when non-empty, is used instead of a numbered
// placeholder.
func (s *sanitizer) placeholderFor(typ PIIType, value, fixed string) string {
	key := string(typ) + "\x00" + strings.ToLower(value)
	if i, ok := s.byValue[key]; ok {
		s.tokens[i].Occurrences++
		return s.tokens[i].Replacement
	}

	replacement := fixed
	if replacement == "" {
		s.counters[typ]++
		replacement = fmt.Sprintf("[%s_%d]", typ.placeholderLabel(), s.counters[typ])
	}
	hash, err := s.gateway.hasher.Hash(typ, value)
	if err != nil {
		s.gateway.logger.Warn("Audit hash unavailable", "type", typ, "error", err)
	}
	s.tokens = append(s.tokens, PIIToken{
		ID:          uuid.NewString(),
		Type:        typ,
		Hash:        hash,
		Replacement: replacement,
		Occurrences: 1,
		CreatedAt:   s.now,
	})
	s.byValue[key] = len(s.tokens) - 1
	return replacement
}

// replaceLiteral swaps every occurrence of value in text.
func (s *sanitizer) replaceLiteral(text, value string, typ PIIType, fixed string, foldCase bool) string {
	if len([]rune(value)) < 2 {
		return text
	}
	expr := regexp.QuoteMeta(value)
	if foldCase {
		expr = "(?i)" + expr
	}
	re := regexp.MustCompile(expr)
	return re.ReplaceAllStringFunc(text, func(found string) string {
		return s.placeholderFor(typ, value, fixed)
	})
}

// replaceLiterals swaps the explicitly supplied identifiers in text.
func (s *sanitizer) replaceLiterals(text string) string {
	text = s.replaceLiteral(text, s.ids.FarmerID, TypeFarmerID, s.farmer, false)
	text = s.replaceLiteral(text, s.ids.FarmID, TypeFarmID, s.farm, false)
	text = s.replaceLiteral(text, strings.TrimSpace(s.ids.DisplayName), TypeName, FarmerPlaceholder, true)
	text = s.replaceLiteral(text, strings.TrimSpace(s.ids.Email), TypeEmail, "", true)
	return s.replaceLiteral(text, strings.TrimSpace(s.ids.Phone), TypePhone, "", false)
}

// scrubText applies literal replacement and the detector.
func (s *sanitizer) scrubText(text string) string {
	if text == "" {
		return text
	}
	return s.replaceDetected(s.replaceLiterals(text))
}

func (s *sanitizer) replaceLiteralsAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = s.replaceLiterals(v)
	}
	return out
}

// scrubContext returns a sanitized copy of farm whose query is query. Soil
// and weather readings are numeric and shared with farm.
func (s *sanitizer) scrubContext(farm datatypes.FarmContext, query string) datatypes.FarmContext {
	out := farm
	out.Farm.Type = s.replaceLiterals(farm.Farm.Type)
	out.Farm.Region = s.replaceLiterals(farm.Farm.Region)
	out.Farm.Crops = s.replaceLiteralsAll(farm.Farm.Crops)
	out.Farm.Livestock = s.replaceLiteralsAll(farm.Farm.Livestock)
	out.Temporal.CropStage = s.replaceLiterals(farm.Temporal.CropStage)
	out.User.Language = s.replaceLiterals(farm.User.Language)
	out.User.Query = query
	out.Extra = nil
	if len(farm.Extra) > 0 {
		out.Extra = make(map[string]any, len(farm.Extra))
		for k, v := range farm.Extra {
			if clean, ok := s.scrubValue(v); ok {
				out.Extra[s.scrubText(k)] = clean
			} else {
				s.gateway.logger.Debug("Dropped uninspectable context value", "key_length", len(k))
			}
		}
	}
	return out
}

// scrubValue sanitizes every string inside v. ok is false for values that
// cannot be inspected.
func (s *sanitizer) scrubValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return t, true
	case string:
		return s.scrubText(t), true
	case []string:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = s.scrubText(e)
		}
		return out, true
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if clean, ok := s.scrubValue(e); ok {
				out = append(out, clean)
			}
		}
		return out, true
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if clean, ok := s.scrubValue(e); ok {
				out[s.scrubText(k)] = clean
			}
		}
		return out, true
	}
	return nil, false
}

// recordIdentifier makes sure an explicit identifier has a token even when it
// did not appear in the text, so the audit trail covers it.
func (s *sanitizer) recordIdentifier(typ PIIType, value, synthetic string) {
	if value == "" {
		return
	}
	key := string(typ) + "\x00" + strings.ToLower(value)
	if _, ok := s.byValue[key]; ok {
		return
	}
	s.placeholderFor(typ, value, synthetic)
	s.tokens[len(s.tokens)-1].Occurrences = 0
}

// replaceDetected runs the detector and replaces matches end to start.
func (s *sanitizer) replaceDetected(text string) string {
	matches := s.gateway.detector.Detect(text)
	if len(matches) == 0 {
		return text
	}
	replacements := make([]string, len(matches))
	for i, m := range matches {
		replacements[i] = s.placeholderFor(m.Type, m.Value, "")
	}
	var b strings.Builder
	last := 0
	for i, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString(replacements[i])
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// =============================================================================
// Personalize
// =============================================================================

// Personalize re-identifies a sanitized response for the original caller.
//
// # Description
//
// This is the single re-identification point:
//   - FarmID is set back to the caller's real farm id.
//   - The farmer-name placeholder and the synthetic farmer id are replaced by
//     the display name (or a neutral salutation when none was supplied).
//   - Any phone, e-mail or coordinate value found in the outbound text is
//     redacted; those are never re-attached.
//
// The request's token entry is dropped afterwards, so a second call for the
// same request fails with ErrRequestNotFound.
//
// # Inputs
//
//   - ctx: Context for audit logging.
//   - requestID: Id returned by Sanitize.
//   - resp: Sanitized response; not modified.
//   - ids: The original identifiers.
//
// # Outputs
//
//   - *datatypes.SidecarResponse: Personalized deep copy.
//   - error: ErrRequestNotFound for unknown or evicted requests.
func (g *Gateway) Personalize(ctx context.Context, requestID string, resp *datatypes.SidecarResponse, ids datatypes.RawIdentifiers) (*datatypes.SidecarResponse, error) {
	entry, ok := g.store.take(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	out := resp.Clone()
	out.FarmID = ids.FarmID
	out.RequestID = requestID

	p := &personalizer{gateway: g, entry: entry, ids: ids, counts: make(map[PIIType]int)}
	for i := range out.Recommendations {
		rec := &out.Recommendations[i]
		rec.Title = p.localized(rec.Title)
		rec.Description = p.localized(rec.Description)
	}
	for i, note := range out.Notes {
		out.Notes[i] = p.text(note, fallbackNameEn)
	}

	g.auditSummary(ctx, "pii.personalized", requestID, nil, p.counts)
	return out, nil
}

type personalizer struct {
	gateway *Gateway
	entry   *tokenEntry
	ids     datatypes.RawIdentifiers
	counts  map[PIIType]int
}

func (p *personalizer) localized(t datatypes.LocalizedText) datatypes.LocalizedText {
	return datatypes.LocalizedText{
		Az: p.text(t.Az, fallbackNameAz),
		En: p.text(t.En, fallbackNameEn),
	}
}

func (p *personalizer) text(s, fallbackName string) string {
	if s == "" {
		return s
	}
	s = p.redactResidual(s)

	name := strings.TrimSpace(p.ids.DisplayName)
	if name == "" {
		name = fallbackName
	}
	if p.entry.syntheticFarm != "" && p.ids.FarmID != "" {
		s = strings.ReplaceAll(s, p.entry.syntheticFarm, p.ids.FarmID)
	}
	if p.entry.syntheticFarmer != "" {
		s = strings.ReplaceAll(s, p.entry.syntheticFarmer, name)
	}
	return strings.ReplaceAll(s, FarmerPlaceholder, name)
}

// redactResidual removes contact and location data from outbound text.
func (p *personalizer) redactResidual(s string) string {
	for _, literal := range []struct {
		value string
		typ   PIIType
	}{
		{strings.TrimSpace(p.ids.Phone), TypePhone},
		{strings.TrimSpace(p.ids.Email), TypeEmail},
	} {
		if len(literal.value) >= 2 && strings.Contains(s, literal.value) {
			p.counts[literal.typ] += strings.Count(s, literal.value)
			s = strings.ReplaceAll(s, literal.value, "["+literal.typ.placeholderLabel()+"]")
		}
	}

	matches := p.gateway.detector.Detect(s, TypePhone, TypeEmail, TypeCoordinates)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		p.counts[m.Type]++
		b.WriteString(s[last:m.Start])
		b.WriteString("[" + m.Type.placeholderLabel() + "]")
		last = m.End
	}
	b.WriteString(s[last:])
	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

// auditSummary records hash, category and count only.
func (g *Gateway) auditSummary(ctx context.Context, eventType, requestID string, tokens []PIIToken, counts map[PIIType]int) {
	countMeta := make(map[string]int, len(counts))
	total := 0
	for typ, n := range counts {
		countMeta[string(typ)] = n
		total += n
	}
	hashes := make([]map[string]string, 0, len(tokens))
	for _, tok := range tokens {
		hashes = append(hashes, map[string]string{"type": string(tok.Type), "hash": tok.Hash})
	}
	event := extensions.AuditEvent{
		EventType:    eventType,
		UserID:       "system",
		Action:       strings.TrimPrefix(eventType, "pii."),
		ResourceType: "request",
		ResourceID:   requestID,
		Outcome:      "success",
		Metadata: extensions.NewMetadata().
			Set("counts", countMeta).
			Set("total", total).
			Set("hashes", hashes),
	}
	if err := g.audit.Log(ctx, event); err != nil {
		g.logger.Warn("Failed to write PII audit event",
			"request_id", requestID,
			"error", err)
	}
}

// syntheticID returns a random identifier unrelated to any real one.
func syntheticID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
