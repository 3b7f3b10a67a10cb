package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DefaultEnvPrefix prefixes secret environment variables.
const DefaultEnvPrefix = "STACKFLOW_"

// EnvProvider reads PREFIX_KEY, then KEY, from the environment.
type EnvProvider struct {
	prefix string
}

func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := p.prefix + strings.ToUpper(key)
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if v := os.Getenv(strings.ToUpper(key)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (p *EnvProvider) Set(_ context.Context, key, value string) error {
	return os.Setenv(p.prefix+strings.ToUpper(key), value)
}

func (p *EnvProvider) Delete(_ context.Context, key string) error {
	return os.Unsetenv(p.prefix + strings.ToUpper(key))
}
