package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Empty(t *testing.T) {
	cfg := &Config{}
	warnings := cfg.Validate()
	if len(warnings) != 0 {
		t.Errorf("empty config should have no warnings, got %v", warnings)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{Provider: "openai"},
	}
	if !hasWarning(cfg.Validate(), "api_key") {
		t.Error("expected warning about missing api_key")
	}
}

func TestValidate_KeylessProviders(t *testing.T) {
	for _, p := range []string{"none", "ollama"} {
		cfg := &Config{LLM: LLMConfig{Provider: p}}
		if hasWarning(cfg.Validate(), "api_key") {
			t.Errorf("'%s' provider should not warn about missing api_key", p)
		}
	}
}

func TestValidate_InvalidTemperature(t *testing.T) {
	tests := []struct {
		name string
		temp float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"normal", 0.7, false},
		{"max", 1.0, false},
		{"negative", -1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LLM: LLMConfig{Temperature: tt.temp}}
			hasWarn := hasWarning(cfg.Validate(), "temperature")
			if hasWarn != tt.want {
				t.Errorf("temperature=%.1f: hasWarn=%v, want=%v", tt.temp, hasWarn, tt.want)
			}
		})
	}
}

func TestValidate_ChunkOverlap(t *testing.T) {
	cfg := &Config{Knowledge: KnowledgeConfig{ChunkSize: 100, ChunkOverlap: 100}}
	if !hasWarning(cfg.Validate(), "chunk_overlap") {
		t.Error("expected warning about chunk_overlap")
	}
}

func TestValidate_Drivers(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: "postgres"},
		Vector:  VectorConfig{Driver: "pinecone"},
	}
	warnings := cfg.Validate()
	if !hasWarning(warnings, "storage driver 'postgres'") {
		t.Errorf("expected unknown storage driver warning, got %v", warnings)
	}
	if !hasWarning(warnings, "vector driver 'pinecone'") {
		t.Errorf("expected unknown vector driver warning, got %v", warnings)
	}

	cfg = &Config{Storage: StorageConfig{Driver: "neo4j"}}
	if !hasWarning(cfg.Validate(), "password") {
		t.Error("expected warning about empty neo4j password")
	}

	cfg = &Config{Temporal: TemporalConfig{Enabled: true}}
	if !hasWarning(cfg.Validate(), "in-memory storage") {
		t.Error("expected warning about temporal with in-memory storage")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected addr :8000, got %s", cfg.Server.Addr)
	}
	if cfg.Knowledge.ChunkSize != 1000 || cfg.Knowledge.ChunkOverlap != 200 || cfg.Knowledge.TopK != 3 {
		t.Errorf("unexpected knowledge defaults: %+v", cfg.Knowledge)
	}
	if cfg.Knowledge.EmbeddingModel != "gemini-embedding-001" {
		t.Errorf("expected default embedding model, got %s", cfg.Knowledge.EmbeddingModel)
	}
	if cfg.Storage.Driver != "memory" || cfg.Vector.Driver != "memory" {
		t.Errorf("expected memory drivers, got %s/%s", cfg.Storage.Driver, cfg.Vector.Driver)
	}
	if cfg.LLM.Timeout != 2*time.Minute {
		t.Errorf("expected 2m llm timeout, got %v", cfg.LLM.Timeout)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackflow.yaml")
	yaml := `
server:
  addr: ":9090"
llm:
  provider: openai
  model: gpt-4o-mini
storage:
  driver: neo4j
  password: secret
knowledge:
  top_k: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STACKFLOW_LLM_API_KEY", "sk-env")
	t.Setenv("STACKFLOW_SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected env to override addr, got %s", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Storage.Driver != "neo4j" || cfg.Storage.Password != "secret" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Knowledge.TopK != 5 {
		t.Errorf("expected top_k 5, got %d", cfg.Knowledge.TopK)
	}
	if cfg.Knowledge.ChunkSize != 1000 {
		t.Errorf("expected default chunk size to survive, got %d", cfg.Knowledge.ChunkSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
