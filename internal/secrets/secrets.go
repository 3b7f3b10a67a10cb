// Package secrets resolves API keys and credentials that nodes and backends
// fall back to when none is stored in the workflow itself.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no provider holds a key.
var ErrNotFound = errors.New("secret not found")

// Key names a secret.
type Key string

const (
	KeyLLMAPIKey      Key = "llm_api_key"
	KeySerpAPIKey     Key = "serpapi_api_key"
	KeyNeo4jPassword  Key = "neo4j_password"
	KeyQdrantAPIKey   Key = "qdrant_api_key"
	KeyTemporalAPIKey Key = "temporal_api_key"
)

// Provider is a secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Config selects the backend. The environment is always consulted last.
type Config struct {
	Provider  string // "env" or "file"
	FilePath  string
	EnvPrefix string
}

// DefaultConfig reads secrets from STACKFLOW_* environment variables.
func DefaultConfig() *Config {
	return &Config{Provider: "env", EnvPrefix: DefaultEnvPrefix}
}

// Manager reads through its providers in order and caches hits.
type Manager struct {
	providers []Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager builds a manager from cfg.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	env := NewEnvProvider(cfg.EnvPrefix)

	switch cfg.Provider {
	case "env", "":
		return NewManagerWith(env), nil
	case "file":
		if cfg.FilePath == "" {
			return nil, errors.New("secrets: file provider needs a path")
		}
		fp, err := NewFileProvider(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return NewManagerWith(fp, env), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
}

// NewManagerWith creates a manager over explicit providers.
func NewManagerWith(providers ...Provider) *Manager {
	return &Manager{providers: providers, cache: make(map[string]string)}
}

// Get returns the first non-empty value for key.
func (m *Manager) Get(ctx context.Context, key Key) (string, error) {
	k := string(key)
	m.mu.RLock()
	v, ok := m.cache[k]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	for _, p := range m.providers {
		v, err := p.Get(ctx, k)
		if err == nil && v != "" {
			m.mu.Lock()
			m.cache[k] = v
			m.mu.Unlock()
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, k)
}

// Lookup returns the value for key or "".
func (m *Manager) Lookup(ctx context.Context, key Key) string {
	v, _ := m.Get(ctx, key)
	return v
}

// Set writes to the first provider.
func (m *Manager) Set(ctx context.Context, key Key, value string) error {
	if len(m.providers) == 0 {
		return errors.New("secrets: no provider")
	}
	if err := m.providers[0].Set(ctx, string(key), value); err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[string(key)] = value
	m.mu.Unlock()
	return nil
}

// Delete removes key from the first provider.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if len(m.providers) == 0 {
		return errors.New("secrets: no provider")
	}
	if err := m.providers[0].Delete(ctx, string(key)); err != nil {
		return err
	}
	m.Forget()
	return nil
}

// Forget drops every cached value.
func (m *Manager) Forget() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}
