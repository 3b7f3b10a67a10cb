package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("stackflow")

	c.ObserveExecution(OutcomeSuccess, 2*time.Second)
	c.ObserveExecution(OutcomeFailure, time.Second)
	c.ObserveExecution(OutcomeSuccess, time.Second)
	c.ObserveIngestion(OutcomeSuccess, 12)
	c.ObserveSave(OutcomeRefused)
	c.ObserveNodeRun("llm", OutcomeSuccess)
	c.ObserveTokens("gemini-1.5-flash", 10, 5)

	if got := testutil.ToFloat64(c.Executions.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("expected 2 successful executions, got %v", got)
	}
	if got := testutil.ToFloat64(c.IngestedChunks); got != 12 {
		t.Errorf("expected 12 chunks, got %v", got)
	}
	if got := testutil.ToFloat64(c.Saves.WithLabelValues(OutcomeRefused)); got != 1 {
		t.Errorf("expected 1 refused save, got %v", got)
	}
	if got := testutil.ToFloat64(c.LLMTokens.WithLabelValues("gemini-1.5-flash", "output")); got != 5 {
		t.Errorf("expected 5 output tokens, got %v", got)
	}
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a := NewCollector("stackflow")
	b := NewCollector("stackflow")
	a.ObserveSave(OutcomeSuccess)
	if got := testutil.ToFloat64(b.Saves.WithLabelValues(OutcomeSuccess)); got != 0 {
		t.Errorf("expected collectors not to share state, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("stackflow")
	c.ObserveHTTP("GET", "/api/v1/stacks", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `stackflow_http_requests_total{method="GET",route="/api/v1/stacks",status="200"} 1`) {
		t.Errorf("expected request counter in output, got:\n%s", body)
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != OutcomeSuccess || Outcome(errors.New("x")) != OutcomeFailure {
		t.Error("unexpected outcome mapping")
	}
}
