// Package engine runs a workflow document against a query: nodes execute in
// dependency order and values flow along edges from output to input ports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/efebarandurmaz/stackflow/internal/knowledge"
	"github.com/efebarandurmaz/stackflow/internal/llm"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/secrets"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

const (
	// NoOutput is returned when no Output node was reached.
	NoOutput = "Execution did not produce a final output."
	// NoUpstreamOutput is what an Output node shows when nothing feeds it.
	NoUpstreamOutput = "No output from connected node."
)

// Providers resolves the LLM for a node's model and key. *llm.Pool
// implements it.
type Providers interface {
	Get(o llm.Override) (llm.Provider, error)
}

// Retriever returns the chunks of a collection closest to a query.
// *knowledge.Service implements it.
type Retriever interface {
	Retrieve(ctx context.Context, q knowledge.Query) ([]string, error)
}

// Searcher returns web result snippets. *websearch.Client implements it.
type Searcher interface {
	Search(ctx context.Context, query, apiKey string) ([]string, error)
}

// Secrets supplies fallback credentials. *secrets.Manager implements it.
type Secrets interface {
	Lookup(ctx context.Context, key secrets.Key) string
}

// NodeRun records one node's execution.
type NodeRun struct {
	NodeID   string            `json:"node_id"`
	Type     workflow.NodeType `json:"type"`
	Output   string            `json:"output,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Result is the outcome of a run.
type Result struct {
	Output string    `json:"response"`
	Runs   []NodeRun `json:"runs,omitempty"`
}

// Executor runs workflow documents.
type Executor struct {
	providers Providers
	retriever Retriever
	searcher  Searcher
	secrets   Secrets
	metrics   *observability.Collector
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetriever enables KnowledgeBase nodes.
func WithRetriever(r Retriever) Option { return func(e *Executor) { e.retriever = r } }

// WithSearcher enables web search on Inference nodes.
func WithSearcher(s Searcher) Option { return func(e *Executor) { e.searcher = s } }

// WithSecrets sets where missing API keys are looked up.
func WithSecrets(s Secrets) Option { return func(e *Executor) { e.secrets = s } }

// WithMetrics records node runs and token usage.
func WithMetrics(c *observability.Collector) Option { return func(e *Executor) { e.metrics = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// New creates an Executor.
func New(providers Providers, opts ...Option) *Executor {
	e := &Executor{providers: providers, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// values holds each node's emitted port values.
type values map[string]map[string]string

func (v values) input(doc *workflow.Document, id, port string) (string, bool) {
	src, edge, ok := doc.UpstreamOf(id, port)
	if !ok {
		return "", false
	}
	out, ok := v[src.ID][edge.SourcePort]
	return out, ok
}

// Run executes doc. query replaces the text of every QueryIntake node; when
// empty, each node's stored query is used.
func (e *Executor) Run(ctx context.Context, stackID string, doc *workflow.Document, query string) (res *Result, err error) {
	order, err := doc.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := observability.StartExecutionSpan(ctx, stackID, len(order))
	defer func() {
		observability.RecordError(span, err)
		span.End()
		if e.metrics != nil {
			e.metrics.ObserveExecution(observability.Outcome(err), time.Since(start))
		}
	}()

	vals := make(values, len(order))
	res = &Result{Output: NoOutput}
	for _, n := range order {
		t0 := time.Now()
		out, err := e.runNode(ctx, doc, n, vals, query, res)
		if e.metrics != nil {
			e.metrics.ObserveNodeRun(string(n.Type), observability.Outcome(err))
		}
		if err != nil {
			e.logger.Error("node failed", "stack", stackID, "node", n.ID, "type", n.Type, "error", err)
			return nil, fmt.Errorf("node %s (%s): %w", n.ID, n.Type, err)
		}
		res.Runs = append(res.Runs, NodeRun{NodeID: n.ID, Type: n.Type, Output: out, Duration: time.Since(t0)})
	}

	e.logger.Info("stack executed", "stack", stackID, "nodes", len(order), "duration", time.Since(start))
	return res, nil
}

// RunWire loads a persisted workflow and runs it, returning the final output.
func (e *Executor) RunWire(ctx context.Context, stackID string, w workflow.WireDocument, query string) (string, error) {
	doc, issues := workflow.FromWire(w)
	for _, is := range issues {
		e.logger.Warn("workflow load issue", "stack", stackID, "code", is.Code(), "issue", is.String())
	}
	res, err := e.Run(ctx, stackID, doc, query)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

func (e *Executor) runNode(ctx context.Context, doc *workflow.Document, n workflow.Node, vals values, query string, res *Result) (out string, err error) {
	ctx, span := observability.StartNodeSpan(ctx, n.ID, string(n.Type))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	switch cfg := n.Data.(type) {
	case *workflow.QueryIntakeConfig:
		q := query
		if strings.TrimSpace(q) == "" {
			q = cfg.Query
		}
		vals[n.ID] = map[string]string{workflow.PortQuery: q}
		return q, nil

	case *workflow.KnowledgeBaseConfig:
		q, _ := vals.input(doc, n.ID, workflow.PortQuery)
		retrieved, err := e.retrieve(ctx, cfg, q)
		if err != nil {
			return "", err
		}
		vals[n.ID] = map[string]string{workflow.PortContext: retrieved}
		return retrieved, nil

	case *workflow.InferenceConfig:
		answer, err := e.infer(ctx, doc, n.ID, cfg, vals)
		if err != nil {
			return "", err
		}
		vals[n.ID] = map[string]string{workflow.PortOutput: answer}
		return answer, nil

	case *workflow.OutputConfig:
		text, ok := vals.input(doc, n.ID, workflow.PortInput)
		if !ok {
			text = NoUpstreamOutput
		}
		res.Output = text
		return text, nil

	default:
		return "", fmt.Errorf("%w: %s", workflow.ErrUnknownNodeType, n.Type)
	}
}

func (e *Executor) retrieve(ctx context.Context, cfg *workflow.KnowledgeBaseConfig, query string) (string, error) {
	if e.retriever == nil || !cfg.Ready || cfg.CollectionName == "" {
		return "", nil
	}
	chunks, err := e.retriever.Retrieve(ctx, knowledge.Query{
		Collection:     cfg.CollectionName,
		Text:           query,
		EmbeddingModel: cfg.EmbeddingModel,
		APIKey:         e.key(ctx, cfg.APIKey, secrets.KeyLLMAPIKey),
	})
	if err != nil {
		return "", fmt.Errorf("retrieve from %s: %w", cfg.CollectionName, err)
	}
	return strings.Join(chunks, "\n\n"), nil
}

func (e *Executor) infer(ctx context.Context, doc *workflow.Document, id string, cfg *workflow.InferenceConfig, vals values) (string, error) {
	query, _ := vals.input(doc, id, workflow.PortQuery)
	background, _ := vals.input(doc, id, workflow.PortContext)

	template := cfg.Prompt
	if template == "" {
		in, _ := doc.SynthesisInputOf(id)
		template = workflow.Synthesize(in)
	}

	if cfg.WebSearch {
		if found := e.search(ctx, query, cfg.SerpAPIKey); found != "" {
			if background != "" {
				background += "\n\n"
			}
			background += found
			if !strings.Contains(template, workflow.ContextPlaceholder) {
				template += workflow.ContextClause
			}
		}
	}

	provider, err := e.providers.Get(llm.Override{
		Model:  cfg.Model,
		APIKey: e.key(ctx, cfg.APIKey, secrets.KeyLLMAPIKey),
	})
	if err != nil {
		return "", err
	}

	ctx, span := observability.StartLLMSpan(ctx, provider.Name(), cfg.Model)
	defer span.End()

	resp, err := provider.Complete(ctx, llm.UserPrompt(workflow.Render(template, background, query)), llm.WithTemperature(cfg.Temperature))
	if err != nil {
		observability.RecordError(span, err)
		return "", err
	}
	observability.RecordLLMUsage(span, resp.InputTokens, resp.OutputTokens)
	if e.metrics != nil {
		e.metrics.ObserveTokens(cfg.Model, resp.InputTokens, resp.OutputTokens)
	}
	return resp.Content, nil
}

// search never fails the run; errors are logged and yield no snippets.
func (e *Executor) search(ctx context.Context, query, apiKey string) string {
	if e.searcher == nil {
		return ""
	}
	apiKey = e.key(ctx, apiKey, secrets.KeySerpAPIKey)
	if apiKey == "" {
		return ""
	}

	ctx, span := observability.StartWebSearchSpan(ctx, "google")
	defer span.End()

	snippets, err := e.searcher.Search(ctx, query, apiKey)
	if err != nil {
		observability.RecordError(span, err)
		if !errors.Is(err, context.Canceled) {
			e.logger.Warn("web search failed", "error", err)
		}
		return ""
	}
	return strings.Join(snippets, "\n\n")
}

func (e *Executor) key(ctx context.Context, own string, fallback secrets.Key) string {
	if own != "" || e.secrets == nil {
		return own
	}
	return e.secrets.Lookup(ctx, fallback)
}
