package llm

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// ProviderConfig holds all configuration needed to create any LLM provider.
type ProviderConfig struct {
	Provider   string // "gemini", "openai", "groq", "ollama", "custom", ...
	APIKey     string
	Model      string
	BaseURL    string // Override for self-hosted / custom endpoints
	EmbedModel string

	Timeout    time.Duration // Per-request timeout (default: 2 minutes)
	MaxRetries int           // Max retry attempts (default: 3)
	RetryDelay time.Duration // Initial retry delay for exponential backoff (default: 1s)

	RequestsPerMinute int // 0 disables request rate limiting
	TokensPerMinute   int // 0 disables token rate limiting
}

// DefaultProviderConfig returns a config with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:   "gemini",
		Model:      "gemini-1.5-flash",
		EmbedModel: "gemini-embedding-001",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given name.
func (f *ProviderFactory) Register(name string, ctor ProviderConstructor) {
	f.constructors[name] = ctor
}

// Names lists registered providers in sorted order.
func (f *ProviderFactory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Create builds a Provider from config. Returns nil (no error) when provider is
// empty or "none", allowing LLM-free operation.
// The returned provider is wrapped with rate limiting and retry logic as
// configured.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	ctor, ok := f.constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q (registered: %v)", cfg.Provider, f.Names())
	}

	provider, err := ctor(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerMinute > 0 || cfg.TokensPerMinute > 0 {
		provider = WithRateLimit(provider, &RateLimitConfig{
			RequestsPerMinute: cfg.RequestsPerMinute,
			TokensPerMinute:   cfg.TokensPerMinute,
		})
	}
	if cfg.Timeout > 0 || cfg.MaxRetries > 0 {
		provider = WrapWithRetry(provider, cfg)
	}
	return provider, nil
}

// KnownProviders maps the built-in presets to their default base URLs. All of
// them speak the OpenAI chat/embeddings protocol; "custom" requires base_url.
var KnownProviders = map[string]string{
	"gemini":   "https://generativelanguage.googleapis.com/v1beta/openai",
	"openai":   "https://api.openai.com/v1",
	"groq":     "https://api.groq.com/openai/v1",
	"ollama":   "http://localhost:11434/v1",
	"together": "https://api.together.xyz/v1",
	"deepseek": "https://api.deepseek.com/v1",
}

// Override selects a provider variant per call site. Empty fields keep the
// pool's base configuration.
type Override struct {
	Model      string
	EmbedModel string
	APIKey     string
}

// Pool hands out providers for per-node model and credential choices,
// building each distinct combination once.
type Pool struct {
	factory *ProviderFactory
	base    ProviderConfig

	mu    sync.Mutex
	cache map[Override]Provider
}

// NewPool returns a pool creating providers from base through factory.
func NewPool(factory *ProviderFactory, base ProviderConfig) *Pool {
	return &Pool{factory: factory, base: base, cache: make(map[Override]Provider)}
}

// Get returns the provider for o, creating it on first use.
func (p *Pool) Get(o Override) (Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prov, ok := p.cache[o]; ok {
		return prov, nil
	}

	cfg := p.base
	if o.Model != "" {
		cfg.Model = o.Model
	}
	if o.EmbedModel != "" {
		cfg.EmbedModel = o.EmbedModel
	}
	if o.APIKey != "" {
		cfg.APIKey = o.APIKey
	}

	prov, err := p.factory.Create(cfg)
	if err != nil {
		return nil, err
	}
	if prov == nil {
		return nil, ErrNoProvider
	}
	p.cache[o] = prov
	return prov, nil
}

// Base returns the configuration providers are derived from.
func (p *Pool) Base() ProviderConfig { return p.base }
