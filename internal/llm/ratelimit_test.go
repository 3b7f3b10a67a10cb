package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockProvider struct {
	name       string
	callCount  int64
	tokenUsage int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	atomic.AddInt64(&m.callCount, 1)
	return &Response{
		Content:      "test response",
		InputTokens:  m.tokenUsage / 2,
		OutputTokens: m.tokenUsage / 2,
	}, nil
}

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt64(&m.callCount, 1)
	return make([][]float32, len(texts)), nil
}

func TestRateLimitProvider_BurstAllowed(t *testing.T) {
	mock := &mockProvider{name: "test", tokenUsage: 100}
	rl := NewRateLimitProvider(mock, &RateLimitConfig{RequestsPerMinute: 60, TokensPerMinute: 100000, BurstSize: 5})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := rl.Complete(context.Background(), UserPrompt("test"), nil); err != nil {
			t.Fatalf("unexpected error on request %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected the burst to pass without waiting, took %v", elapsed)
	}
	if mock.callCount != 5 {
		t.Fatalf("expected 5 calls, got %d", mock.callCount)
	}
}

func TestRateLimitProvider_Stats(t *testing.T) {
	mock := &mockProvider{name: "test", tokenUsage: 1000}
	rl := NewRateLimitProvider(mock, &RateLimitConfig{RequestsPerMinute: 600, TokensPerMinute: 100000, BurstSize: 10})

	for range 2 {
		if _, err := rl.Complete(context.Background(), UserPrompt("test"), nil); err != nil {
			t.Fatal(err)
		}
	}
	stats := rl.Stats()
	if stats.RequestsInWindow != 2 {
		t.Errorf("expected 2 requests in window, got %d", stats.RequestsInWindow)
	}
	if stats.TokensInWindow != 2000 {
		t.Errorf("expected 2000 tokens in window, got %d", stats.TokensInWindow)
	}
}

func TestRateLimitProvider_TokenDebtBlocks(t *testing.T) {
	mock := &mockProvider{name: "test", tokenUsage: 600}
	rl := NewRateLimitProvider(mock, &RateLimitConfig{TokensPerMinute: 60})

	if _, err := rl.Complete(context.Background(), UserPrompt("test"), nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := rl.Complete(ctx, UserPrompt("test"), nil); err == nil {
		t.Fatal("expected the exhausted token budget to block the next call")
	}
	if mock.callCount != 1 {
		t.Errorf("expected 1 call, got %d", mock.callCount)
	}
}

func TestRateLimitProvider_ContextCancellation(t *testing.T) {
	mock := &mockProvider{name: "test"}
	rl := NewRateLimitProvider(mock, &RateLimitConfig{RequestsPerMinute: 6000, BurstSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rl.Complete(ctx, UserPrompt("test"), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRateLimitProvider_Unlimited(t *testing.T) {
	mock := &mockProvider{name: "test", tokenUsage: 100}
	rl := NewRateLimitProvider(mock, &RateLimitConfig{})

	for i := 0; i < 20; i++ {
		if _, err := rl.Embed(context.Background(), []string{"x"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if mock.callCount != 20 {
		t.Fatalf("expected 20 calls, got %d", mock.callCount)
	}
}

func TestWithRateLimit(t *testing.T) {
	if WithRateLimit(nil, nil) != nil {
		t.Fatal("expected nil for nil provider")
	}
	p := WithRateLimit(&mockProvider{name: "test"}, nil)
	if _, ok := p.(*RateLimitProvider); !ok {
		t.Fatalf("expected *RateLimitProvider, got %T", p)
	}
}
