package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRefused = "refused"
)

// Collector holds the Prometheus metrics of the service. Each collector owns
// its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Executions        *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	NodeRuns          *prometheus.CounterVec
	Saves             *prometheus.CounterVec
	Ingestions        *prometheus.CounterVec
	IngestedChunks    prometheus.Counter
	LLMTokens         *prometheus.CounterVec
}

// NewCollector creates and registers all metrics under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Stack executions by outcome",
		}, []string{"outcome"}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of stack executions",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		NodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_runs_total",
			Help:      "Workflow node runs by node type and outcome",
		}, []string{"type", "outcome"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Workflow document saves by outcome",
		}, []string{"outcome"}),
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Knowledge base uploads by outcome",
		}, []string{"outcome"}),
		IngestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Text chunks written to vector collections",
		}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens billed by LLM providers",
		}, []string{"model", "direction"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Executions,
		c.ExecutionDuration,
		c.NodeRuns,
		c.Saves,
		c.Ingestions,
		c.IngestedChunks,
		c.LLMTokens,
	)
	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveExecution records one finished stack execution.
func (c *Collector) ObserveExecution(outcome string, d time.Duration) {
	c.Executions.WithLabelValues(outcome).Inc()
	c.ExecutionDuration.Observe(d.Seconds())
}

// ObserveNodeRun records one node run inside an execution.
func (c *Collector) ObserveNodeRun(nodeType, outcome string) {
	c.NodeRuns.WithLabelValues(nodeType, outcome).Inc()
}

// ObserveSave records a save attempt.
func (c *Collector) ObserveSave(outcome string) {
	c.Saves.WithLabelValues(outcome).Inc()
}

// ObserveIngestion records an upload and the number of chunks it produced.
func (c *Collector) ObserveIngestion(outcome string, chunks int) {
	c.Ingestions.WithLabelValues(outcome).Inc()
	if chunks > 0 {
		c.IngestedChunks.Add(float64(chunks))
	}
}

// ObserveTokens records LLM token usage for model.
func (c *Collector) ObserveTokens(model string, input, output int) {
	c.LLMTokens.WithLabelValues(model, "input").Add(float64(input))
	c.LLMTokens.WithLabelValues(model, "output").Add(float64(output))
}

// Outcome maps an error to a success or failure label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
