package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures rate limiting for LLM providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited)
	RequestsPerMinute int
	// TokensPerMinute limits total tokens per minute (0 = unlimited)
	TokensPerMinute int
	// BurstSize allows temporary burst above the request rate
	BurstSize int
}

// DefaultRateLimitConfig matches the free tier of the hosted Gemini API.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 15,
		TokensPerMinute:   250000,
		BurstSize:         3,
	}
}

// RateLimitProvider wraps a provider with request and token budgets. Token
// usage is only known after a call, so it is charged afterwards and makes
// the next call wait until the debt is repaid.
type RateLimitProvider struct {
	inner    Provider
	requests *rate.Limiter
	tokens   *rate.Limiter

	mu     sync.Mutex
	calls  int
	used   int
	window time.Time
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}

	r := &RateLimitProvider{inner: inner, window: time.Now()}
	if config.RequestsPerMinute > 0 {
		r.requests = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60), burst)
	}
	if config.TokensPerMinute > 0 {
		r.tokens = rate.NewLimiter(rate.Limit(float64(config.TokensPerMinute)/60), config.TokensPerMinute)
	}
	return r
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string {
	return r.inner.Name()
}

// Complete rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := r.inner.Complete(ctx, prompt, opts)
	if err == nil {
		r.charge(resp.TotalTokens())
	}
	return resp, err
}

// Embed rate-limits and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimitProvider) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.requests != nil {
		if err := r.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if r.tokens != nil {
		if err := r.tokens.Wait(ctx); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.roll()
	r.calls++
	r.mu.Unlock()
	return nil
}

func (r *RateLimitProvider) charge(n int) {
	if n <= 0 {
		return
	}
	if r.tokens != nil {
		r.tokens.ReserveN(time.Now(), min(n, r.tokens.Burst()))
	}

	r.mu.Lock()
	r.roll()
	r.used += n
	r.mu.Unlock()
}

// roll starts a new accounting window once a minute has passed.
func (r *RateLimitProvider) roll() {
	if time.Since(r.window) >= time.Minute {
		r.window = time.Now()
		r.calls = 0
		r.used = 0
	}
}

// RateLimitStats contains rate limiting statistics for the current minute.
type RateLimitStats struct {
	RequestsInWindow int
	TokensInWindow   int
	WindowStart      time.Time
}

// Stats returns current rate limiting statistics.
func (r *RateLimitProvider) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RateLimitStats{RequestsInWindow: r.calls, TokensInWindow: r.used, WindowStart: r.window}
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
