package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// STACKFLOW_LLM_API_KEY for llm.api_key.
const EnvPrefix = "STACKFLOW"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	WebSearch WebSearchConfig `mapstructure:"websearch"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	EmbedModel  string        `mapstructure:"embed_model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RPM         int           `mapstructure:"rpm"`
	TPM         int           `mapstructure:"tpm"`
	Temperature float64       `mapstructure:"temperature"`
}

// StorageConfig selects where stacks are persisted: "memory" or "neo4j".
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// VectorConfig selects the embedding store: "memory" or "qdrant".
type VectorConfig struct {
	Driver string `mapstructure:"driver"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
}

type KnowledgeConfig struct {
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	TopK           int    `mapstructure:"top_k"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	MaxFileBytes   int64  `mapstructure:"max_file_bytes"`
}

// WebSearchConfig points at SerpAPI and tunes the circuit breaker around it.
type WebSearchConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	MaxFailures int           `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// TemporalConfig enables durable execution. When Enabled is false stacks run
// in-process.
type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SecretsConfig struct {
	Provider  string `mapstructure:"provider"`
	FilePath  string `mapstructure:"file_path"`
	EnvPrefix string `mapstructure:"env_prefix"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key, including empty ones, so AutomaticEnv
// overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.embed_model", "gemini-embedding-001")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.rpm", 0)
	v.SetDefault("llm.tpm", 0)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.uri", "bolt://localhost:7687")
	v.SetDefault("storage.username", "neo4j")
	v.SetDefault("storage.database", "neo4j")
	v.SetDefault("storage.password", "")

	v.SetDefault("vector.driver", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)

	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 200)
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.embedding_model", "gemini-embedding-001")
	v.SetDefault("knowledge.max_file_bytes", 20<<20)

	v.SetDefault("websearch.endpoint", "https://serpapi.com/search.json")
	v.SetDefault("websearch.max_failures", 5)
	v.SetDefault("websearch.cooldown", time.Minute)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "stackflow-executions")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.env_prefix", EnvPrefix+"_")
	v.SetDefault("secrets.file_path", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Check for empty API key with active provider (skip "none" and local ollama)
	switch c.LLM.Provider {
	case "", "none", "ollama":
	default:
		if c.LLM.APIKey == "" {
			warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty; nodes must carry their own key", c.LLM.Provider))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside range [0.0, 1.0]", c.LLM.Temperature))
	}

	if c.LLM.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_retries %d is negative", c.LLM.MaxRetries))
	}

	if c.Knowledge.ChunkSize > 0 && c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("knowledge chunk_overlap %d is not smaller than chunk_size %d", c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize))
	}

	switch c.Storage.Driver {
	case "", "memory":
		if c.Temporal.Enabled {
			warnings = append(warnings, "temporal is enabled with in-memory storage; workers cannot see stacks saved by other processes")
		}
	case "neo4j":
		if c.Storage.Password == "" {
			warnings = append(warnings, "storage driver 'neo4j' is configured but password is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown storage driver '%s'", c.Storage.Driver))
	}

	switch c.Vector.Driver {
	case "", "memory", "qdrant":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown vector driver '%s'", c.Vector.Driver))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside range [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path skips
// the file and uses defaults plus STACKFLOW_* variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, warning := range cfg.Validate() {
		slog.Warn("config", "warning", warning)
	}

	return &cfg, nil
}
