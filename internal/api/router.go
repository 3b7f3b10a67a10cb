// Package api serves the stackflow REST API: stack CRUD and execution,
// knowledge uploads, server-side synthesis, model catalogs and a live event
// stream.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/efebarandurmaz/stackflow/internal/editor"
	"github.com/efebarandurmaz/stackflow/internal/events"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/server"
	"github.com/efebarandurmaz/stackflow/internal/stack"
)

// DefaultMaxUploadBytes bounds multipart bodies when Deps.MaxUploadBytes is
// unset.
const DefaultMaxUploadBytes = 20 << 20

// DefaultPingInterval is how often idle event streams receive a keepalive.
const DefaultPingInterval = 30 * time.Second

// Deps are the collaborators behind the routes. Stacks is required; every
// other field is optional and disables its routes or middleware when nil.
type Deps struct {
	Stacks    *stack.Service
	Knowledge editor.Ingester
	Runner    stack.Runner
	Emitter   *events.Emitter
	Health    *server.HealthServer
	Metrics   *observability.Collector
	Logger    *slog.Logger

	AllowedOrigins []string
	MaxUploadBytes int64
	PingInterval   time.Duration
}

// Router creates and configures the HTTP router.
type Router struct {
	deps     Deps
	logger   *slog.Logger
	sessions *sessions
}

// NewRouter creates a new router instance.
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if deps.PingInterval <= 0 {
		deps.PingInterval = DefaultPingInterval
	}
	return &Router{
		deps:     deps,
		logger:   deps.Logger,
		sessions: newSessions(deps.Stacks, deps.Knowledge, deps.Runner, deps.Logger),
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(rt.logger))
	if rt.deps.Metrics != nil {
		router.Use(instrument(rt.deps.Metrics))
	}

	origins := rt.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if rt.deps.Health != nil {
		h := rt.deps.Health.Handler()
		for _, p := range []string{"/health", "/ready", "/live", "/healthz", "/readyz", "/livez"} {
			router.Handle(p, h)
		}
	}
	if rt.deps.Metrics != nil {
		router.Handle("/metrics", rt.deps.Metrics.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/stacks", func(r chi.Router) {
			r.Get("/", rt.listStacks)
			r.Post("/", rt.createStack)
			r.Get("/{stackID}", rt.getStack)
			r.Put("/{stackID}", rt.updateStack)
			r.Delete("/{stackID}", rt.deleteStack)
			r.Post("/{stackID}/execute", rt.executeStack)
		})

		if rt.deps.Knowledge != nil {
			r.Post("/knowledge/upload", rt.uploadKnowledge)
		}

		r.Post("/workflows/synthesize", rt.synthesize)
		r.Get("/catalog", rt.catalog)

		if rt.deps.Emitter != nil {
			r.Get("/events", rt.streamEvents)
			r.Get("/executions", rt.listExecutions)
			r.Get("/executions/{runID}", rt.getExecution)
		}
	})

	return router
}
