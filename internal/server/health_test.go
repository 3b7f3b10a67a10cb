package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func get(t *testing.T, s *HealthServer, path string) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return w, resp
}

func TestHealthServer_ReadyAndLive(t *testing.T) {
	s := NewHealthServer("")

	if w, _ := get(t, s, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before ready, got %d", w.Code)
	}
	s.SetReady(true)
	if w, _ := get(t, s, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", w.Code)
	}

	if w, _ := get(t, s, "/live"); w.Code != http.StatusOK {
		t.Fatalf("expected live by default, got %d", w.Code)
	}
	s.SetLive(false)
	if w, resp := get(t, s, "/livez"); w.Code != http.StatusServiceUnavailable || resp.Status != HealthStatusUnhealthy {
		t.Fatalf("expected 503 unhealthy, got %d %s", w.Code, resp.Status)
	}
}

func TestHealthServer_AggregatesChecks(t *testing.T) {
	s := NewHealthServer("1.2.0")
	s.RegisterCheck("neo4j", DependencyChecker("neo4j", true, func(context.Context) error { return nil }))
	s.RegisterCheck("qdrant", DependencyChecker("qdrant", false, func(context.Context) error { return errors.New("timeout") }))
	s.RegisterCheck("llm", StaticChecker("provider gemini configured", map[string]string{"provider": "gemini"}))

	w, resp := get(t, s, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 while degraded, got %d", w.Code)
	}
	if resp.Status != HealthStatusDegraded {
		t.Errorf("expected degraded, got %s", resp.Status)
	}
	if resp.Version != "1.2.0" {
		t.Errorf("expected version 1.2.0, got %s", resp.Version)
	}
	if len(resp.Checks) != 3 || resp.Checks[0].Name != "llm" || resp.Checks[2].Name != "qdrant" {
		t.Errorf("expected checks in name order, got %+v", resp.Checks)
	}

	s.RegisterCheck("temporal", DependencyChecker("temporal", true, func(context.Context) error { return errors.New("refused") }))
	w, resp = get(t, s, "/healthz")
	if w.Code != http.StatusServiceUnavailable || resp.Status != HealthStatusUnhealthy {
		t.Errorf("expected 503 unhealthy, got %d %s", w.Code, resp.Status)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
}
