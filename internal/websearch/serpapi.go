// Package websearch fetches result snippets that enrich an inference
// node's context.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultEndpoint is the SerpAPI search URL.
const DefaultEndpoint = "https://serpapi.com/search.json"

// MaxSnippets caps how many organic results are used.
const MaxSnippets = 3

// ErrSearchFailed wraps any non-2xx answer from the search API.
var ErrSearchFailed = errors.New("web search failed")

// Breaker defaults: consecutive failures that open the circuit, and how long
// it stays open before a trial request is let through.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = time.Minute
)

// Client queries SerpAPI's Google engine. Repeated failures open a circuit
// breaker so executions stop waiting on a search API that is down.
type Client struct {
	endpoint    string
	http        *http.Client
	logger      *slog.Logger
	maxFailures uint32
	cooldown    time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint points the client at another URL.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCircuitBreaker tunes the breaker. maxFailures of 0 keeps the default.
func WithCircuitBreaker(maxFailures uint32, cooldown time.Duration) Option {
	return func(c *Client) {
		if maxFailures > 0 {
			c.maxFailures = maxFailures
		}
		if cooldown > 0 {
			c.cooldown = cooldown
		}
	}
}

// New creates a SerpAPI client.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint:    DefaultEndpoint,
		http:        &http.Client{Timeout: 15 * time.Second},
		logger:      slog.Default(),
		maxFailures: DefaultMaxFailures,
		cooldown:    DefaultCooldown,
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "serpapi",
		Timeout: c.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("web search circuit breaker", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

type searchResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

// Search returns up to MaxSnippets organic result snippets for query.
// An empty apiKey or query makes no request and returns nothing.
func (c *Client) Search(ctx context.Context, query, apiKey string) ([]string, error) {
	if apiKey == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.search(ctx, query, apiKey)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
		}
		return nil, err
	}
	return out.([]string), nil
}

func (c *Client) search(ctx context.Context, query, apiKey string) ([]string, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSearchFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSearchFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, sr.Error)
	}

	var snippets []string
	for _, r := range sr.OrganicResults {
		if len(snippets) == MaxSnippets {
			break
		}
		if s := strings.TrimSpace(r.Snippet); s != "" {
			snippets = append(snippets, s)
		}
	}
	return snippets, nil
}
