package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/SidecarIntelligence/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the advisor's outbound budget is spent.
var ErrRateLimited = errors.New("model advisor rate limited")

// MaxSuggestions caps how many model suggestions are accepted per request.
const MaxSuggestions = 5

// AdviceRequest is the sanitized input for one model call.
//
// # Fields
//
//   - RequestID: Correlation id, never sent to the model.
//   - Context: Sanitized farm context. Identifiers are synthetic.
//   - Query: Sanitized free text.
//   - Rules: Ids and categories of the rules applicable to the farm, so
//     the model can reference them.
type AdviceRequest struct {
	RequestID string
	Context   datatypes.FarmContext
	Query     string
	Rules     map[string]datatypes.Category
}

// Advisor produces model-generated recommendations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Advisor interface {
	// Suggest returns candidate recommendations tagged model_generated. A
	// suggestion that names a rule carries it in RuleID.
	Suggest(ctx context.Context, req AdviceRequest) ([]datatypes.Recommendation, error)
}

// NopAdvisor runs the sidecar in rules-only mode.
type NopAdvisor struct{}

// Suggest implements Advisor.
func (NopAdvisor) Suggest(context.Context, AdviceRequest) ([]datatypes.Recommendation, error) {
	return nil, nil
}

// AdvisorConfig configures an LLMAdvisor.
type AdvisorConfig struct {
	// RequestsPerSecond bounds outbound calls. <= 0 disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst, default 1.
	Burst int
	// Params are passed to the backend unchanged.
	Params GenerationParams
}

// LLMAdvisor asks an LLMClient for a JSON array of recommendations.
//
// # Description
//
// The prompt carries only sanitized data. The answer is parsed leniently:
// code fences and prose around the array are ignored, suggestions without a
// title are dropped, unknown categories become "general" and confidence is
// clamped to [0,1]. Calls over the rate limit fail fast with ErrRateLimited
// rather than delaying the request.
//
// # Thread Safety
//
// Safe for concurrent use.
type LLMAdvisor struct {
	client  LLMClient
	limiter *rate.Limiter
	params  GenerationParams
	logger  *slog.Logger
}

// NewLLMAdvisor wraps client.
func NewLLMAdvisor(client LLMClient, cfg AdvisorConfig, logger *slog.Logger) *LLMAdvisor {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &LLMAdvisor{
		client:  client,
		limiter: limiter,
		params:  cfg.Params,
		logger:  logger.With("component", "model_advisor"),
	}
}

// Suggest implements Advisor.
func (a *LLMAdvisor) Suggest(ctx context.Context, req AdviceRequest) ([]datatypes.Recommendation, error) {
	ctx, span := tracer.Start(ctx, "LLMAdvisor.Suggest")
	defer span.End()

	if !a.limiter.Allow() {
		return nil, ErrRateLimited
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}
	answer, err := a.client.Generate(ctx, prompt, a.params)
	if err != nil {
		return nil, fmt.Errorf("model advisor: %w", err)
	}
	recs, err := ParseSuggestions(answer)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("advisor.suggestions", len(recs)))
	a.logger.Debug("Model suggestions parsed",
		"request_id", req.RequestID,
		"count", len(recs))
	return recs, nil
}

// =============================================================================
// Prompt and answer format
// =============================================================================

type promptPayload struct {
	Context datatypes.FarmContext         `json:"context"`
	Query   string                        `json:"query,omitempty"`
	Rules   map[string]datatypes.Category `json:"rules,omitempty"`
}

const promptInstructions = `Suggest at most %d practical farm actions for the situation below.
Reply with a JSON array only. Each element:
{"category": one of irrigation|fertilization|pest|pesticide|disease|harvest|planting|livestock|soil|weather|general,
 "priority": critical|high|medium|low,
 "title_az": "...", "title_en": "...",
 "description_az": "...", "description_en": "...",
 "confidence": number between 0 and 1,
 "rule_id": id from rules if the action follows that rule, else "",
 "suggested_time": optional time window}

Situation:
%s`

// BuildPrompt renders the model prompt for req.
func BuildPrompt(req AdviceRequest) (string, error) {
	body, err := json.MarshalIndent(promptPayload{
		Context: req.Context,
		Query:   req.Query,
		Rules:   req.Rules,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render advice prompt: %w", err)
	}
	return fmt.Sprintf(promptInstructions, MaxSuggestions, body), nil
}

type suggestion struct {
	Category      string   `json:"category"`
	Priority      string   `json:"priority"`
	TitleAz       string   `json:"title_az"`
	TitleEn       string   `json:"title_en"`
	DescriptionAz string   `json:"description_az"`
	DescriptionEn string   `json:"description_en"`
	Confidence    *float64 `json:"confidence"`
	RuleID        string   `json:"rule_id"`
	SuggestedTime string   `json:"suggested_time"`
}

// ParseSuggestions extracts model-generated recommendations from a raw answer.
//
// # Outputs
//
//   - []datatypes.Recommendation: At most MaxSuggestions entries.
//   - error: Non-nil when the answer holds no JSON array.
func ParseSuggestions(answer string) ([]datatypes.Recommendation, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model answer holds no JSON array")
	}
	var raw []suggestion
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model answer: %w", err)
	}

	out := make([]datatypes.Recommendation, 0, len(raw))
	for _, s := range raw {
		if len(out) == MaxSuggestions {
			break
		}
		title := datatypes.LocalizedText{Az: strings.TrimSpace(s.TitleAz), En: strings.TrimSpace(s.TitleEn)}
		if title.IsZero() {
			continue
		}
		category := datatypes.Category(strings.ToLower(strings.TrimSpace(s.Category)))
		if !category.Valid() {
			category = datatypes.CategoryGeneral
		}
		priority := datatypes.Priority(strings.ToLower(strings.TrimSpace(s.Priority)))
		switch priority {
		case datatypes.PriorityCritical, datatypes.PriorityHigh, datatypes.PriorityMedium, datatypes.PriorityLow:
		default:
			priority = datatypes.PriorityMedium
		}
		confidence := 0.5
		if s.Confidence != nil {
			confidence = min(max(*s.Confidence, 0), 1)
		}
		out = append(out, datatypes.Recommendation{
			ID:            uuid.NewString(),
			Category:      category,
			Priority:      priority,
			Confidence:    confidence,
			Title:         title,
			Description:   datatypes.LocalizedText{Az: strings.TrimSpace(s.DescriptionAz), En: strings.TrimSpace(s.DescriptionEn)},
			Source:        datatypes.SourceModelGenerated,
			RuleID:        strings.TrimSpace(s.RuleID),
			SuggestedTime: strings.TrimSpace(s.SuggestedTime),
		})
	}
	return out, nil
}

var (
	_ Advisor = NopAdvisor{}
	_ Advisor = (*LLMAdvisor)(nil)
)
