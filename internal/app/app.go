// Package app builds the stackflow object graph from configuration. The API
// server and the Temporal worker share it so both run stacks the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/stackflow/internal/api"
	"github.com/efebarandurmaz/stackflow/internal/config"
	"github.com/efebarandurmaz/stackflow/internal/engine"
	"github.com/efebarandurmaz/stackflow/internal/events"
	"github.com/efebarandurmaz/stackflow/internal/knowledge"
	"github.com/efebarandurmaz/stackflow/internal/llm"
	"github.com/efebarandurmaz/stackflow/internal/llm/openai"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/secrets"
	"github.com/efebarandurmaz/stackflow/internal/server"
	"github.com/efebarandurmaz/stackflow/internal/stack"
	stackneo4j "github.com/efebarandurmaz/stackflow/internal/stack/neo4j"
	"github.com/efebarandurmaz/stackflow/internal/temporal"
	"github.com/efebarandurmaz/stackflow/internal/vector"
	"github.com/efebarandurmaz/stackflow/internal/vector/qdrant"
	"github.com/efebarandurmaz/stackflow/internal/websearch"
)

// Version is reported by health checks and traces.
var Version = "0.1.0"

// MetricsNamespace prefixes every Prometheus metric.
const MetricsNamespace = "stackflow"

// Runtime holds what executing a workflow needs. The worker process stops
// here.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *observability.Collector
	Tracing   *observability.TracerProvider
	Secrets   *secrets.Manager
	LLM       *llm.Pool
	Vectors   vector.Repository
	Knowledge *knowledge.Service
	Search    *websearch.Client
	Engine    *engine.Executor
}

// Container adds storage, dispatch, events and health on top of Runtime.
type Container struct {
	*Runtime
	Stacks   stack.Repository
	Temporal client.Client
	Runner   stack.Runner
	Events   *events.Emitter
	Service  *stack.Service
	Health   *server.HealthServer
}

// NewRuntime builds the execution side: tracing, metrics, secrets, LLM
// providers, the vector store, knowledge ingestion, web search and the
// engine.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewCollector(MetricsNamespace)}

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = Version
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	if cfg.Tracing.Environment != "" {
		tcfg.Environment = cfg.Tracing.Environment
	}
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	rt.Tracing = tp

	rt.Secrets, err = secrets.NewManager(&secrets.Config{
		Provider:  cfg.Secrets.Provider,
		FilePath:  cfg.Secrets.FilePath,
		EnvPrefix: cfg.Secrets.EnvPrefix,
	})
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("secrets: %w", err)
	}

	factory := llm.NewFactory()
	openai.Register(factory)
	base := llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            orSecret(ctx, rt.Secrets, cfg.LLM.APIKey, secrets.KeyLLMAPIKey),
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		EmbedModel:        cfg.LLM.EmbedModel,
		Timeout:           cfg.LLM.Timeout,
		MaxRetries:        cfg.LLM.MaxRetries,
		RequestsPerMinute: cfg.LLM.RPM,
		TokensPerMinute:   cfg.LLM.TPM,
	}
	rt.LLM = llm.NewPool(factory, base)

	switch cfg.Vector.Driver {
	case "qdrant":
		q, err := qdrant.New(cfg.Vector.Host, cfg.Vector.Port, rt.Secrets.Lookup(ctx, secrets.KeyQdrantAPIKey))
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("vector store: %w", err)
		}
		rt.Vectors = q
	default:
		rt.Vectors = vector.NewMemory()
	}

	rt.Knowledge = knowledge.NewService(rt.LLM, rt.Vectors, knowledge.Config{
		ChunkSize:      cfg.Knowledge.ChunkSize,
		ChunkOverlap:   cfg.Knowledge.ChunkOverlap,
		TopK:           cfg.Knowledge.TopK,
		EmbeddingModel: cfg.Knowledge.EmbeddingModel,
		MaxFileBytes:   cfg.Knowledge.MaxFileBytes,
	}, logger)

	searchOpts := []websearch.Option{websearch.WithLogger(logger)}
	if cfg.WebSearch.MaxFailures > 0 {
		searchOpts = append(searchOpts, websearch.WithCircuitBreaker(uint32(cfg.WebSearch.MaxFailures), cfg.WebSearch.Cooldown))
	}
	if cfg.WebSearch.Endpoint != "" {
		searchOpts = append(searchOpts, websearch.WithEndpoint(cfg.WebSearch.Endpoint))
	}
	rt.Search = websearch.New(searchOpts...)

	rt.Engine = engine.New(rt.LLM,
		engine.WithRetriever(rt.Knowledge),
		engine.WithSearcher(rt.Search),
		engine.WithSecrets(rt.Secrets),
		engine.WithMetrics(rt.Metrics),
		engine.WithLogger(logger),
	)

	logger.Info("runtime ready",
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"vector_driver", cfg.Vector.Driver,
		"tracing", cfg.Tracing.Endpoint != "",
	)
	return rt, nil
}

// Close releases the vector store and flushes traces.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Vectors != nil {
		errs = append(errs, rt.Vectors.Close())
	}
	if rt.Tracing != nil {
		errs = append(errs, rt.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// New builds the full server-side container.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &Container{Runtime: rt, Health: server.NewHealthServer(Version)}

	switch cfg.Storage.Driver {
	case "neo4j":
		password := orSecret(ctx, rt.Secrets, cfg.Storage.Password, secrets.KeyNeo4jPassword)
		repo, err := stackneo4j.New(ctx, cfg.Storage.URI, cfg.Storage.Username, password, cfg.Storage.Database)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("stack store: %w", err)
		}
		c.Stacks = repo
		c.Health.RegisterCheck("neo4j", server.DependencyChecker("neo4j", true, func(ctx context.Context) error {
			_, err := repo.List(ctx)
			return err
		}))
	default:
		c.Stacks = stack.NewMemoryRepository()
		c.Health.RegisterCheck("storage", server.StaticChecker("in-memory stack store", map[string]string{"driver": "memory"}))
	}

	c.Runner = rt.Engine
	if cfg.Temporal.Enabled {
		tc, err := DialTemporal(ctx, cfg, rt.Secrets, logger)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.Temporal = tc
		c.Runner = temporal.NewDispatcher(tc, cfg.Temporal.TaskQueue)
		c.Health.RegisterCheck("temporal", server.DependencyChecker("temporal", true, func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}))
	}

	if q, ok := rt.Vectors.(*qdrant.Repository); ok {
		c.Health.RegisterCheck("qdrant", server.DependencyChecker("qdrant", false, q.Ping))
	}

	c.Events = events.NewEmitter(events.NewStore(), events.NewHub())
	c.Service = stack.NewService(c.Stacks, c.Runner,
		stack.WithNotifier(c.Events),
		stack.WithMetrics(rt.Metrics),
		stack.WithLogger(logger),
	)
	return c, nil
}

// DialTemporal connects to the configured Temporal frontend.
func DialTemporal(ctx context.Context, cfg *config.Config, sm *secrets.Manager, logger *slog.Logger) (client.Client, error) {
	opts := client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	}
	if key := sm.Lookup(ctx, secrets.KeyTemporalAPIKey); key != "" {
		opts.Credentials = client.NewAPIKeyStaticCredentials(key)
	}
	tc, err := client.DialContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return tc, nil
}

// Handler returns the HTTP API.
func (c *Container) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Stacks:         c.Service,
		Knowledge:      c.Knowledge,
		Runner:         c.Runner,
		Emitter:        c.Events,
		Health:         c.Health,
		Metrics:        c.Metrics,
		Logger:         c.Logger,
		AllowedOrigins: c.Config.Server.AllowedOrigins,
		MaxUploadBytes: c.Config.Knowledge.MaxFileBytes,
	}).Setup()
}

// RegisterShutdown adds the container's resources to h in dependency order.
func (c *Container) RegisterShutdown(h *server.ShutdownHandler) {
	if c.Temporal != nil {
		h.RegisterHook("temporal-client", server.PriorityWorker, func(context.Context) error {
			c.Temporal.Close()
			return nil
		})
	}
	h.RegisterHook("tracing", server.PriorityTracing, func(ctx context.Context) error {
		return c.Tracing.Shutdown(ctx)
	})
	h.RegisterHook("stack-store", server.PriorityStorage, func(ctx context.Context) error {
		return c.Stacks.Close(ctx)
	})
	h.RegisterHook("vector-store", server.PriorityStorage, func(context.Context) error {
		return c.Vectors.Close()
	})
}

// Close releases everything New acquired. Used when startup fails.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Stacks != nil {
		errs = append(errs, c.Stacks.Close(ctx))
	}
	errs = append(errs, c.Runtime.Close(ctx))
	return errors.Join(errs...)
}

func orSecret(ctx context.Context, sm *secrets.Manager, v string, key secrets.Key) string {
	if v != "" {
		return v
	}
	return sm.Lookup(ctx, key)
}
