package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoProvider is returned when a call needs a model but none is configured.
var ErrNoProvider = errors.New("no llm provider configured")

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string
}

// RequestOptions tunes a single completion. Nil fields use the backend default.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}

// WithTemperature returns options carrying only a sampling temperature.
func WithTemperature(t float64) *RequestOptions {
	return &RequestOptions{Temperature: &t}
}

// APIError is a non-2xx answer from a provider's HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}
