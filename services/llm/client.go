package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without content.
var ErrEmptyResponse = errors.New("llm returned no content")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
// Prompts passed to Generate must already be sanitized.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
