package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWireRoundTrip(t *testing.T) {
	d, kb, llm := ragGraph(t)
	out := mustAdd(t, d, Output)
	mustConnect(t, d, llm.ID, PortOutput, out.ID, PortInput)
	if err := d.Patch(kb.ID, map[string]any{"uploadSuccess": true, "collectionName": "kb_abc", "file": nil}); err != nil {
		t.Fatal(err)
	}
	if err := d.MoveNode(out.ID, Position{X: 400, Y: 120}); err != nil {
		t.Fatal(err)
	}
	d.SetViewport(Viewport{X: -10, Y: 4, Zoom: 1.5})

	first := ToWire(d)
	restored, issues := FromWire(first)
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	second := ToWire(restored)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("round trip is not a fixed point (-first +second):\n%s", diff)
	}
}

func TestWireRoundTrip_JSON(t *testing.T) {
	d, _, _ := ragGraph(t)
	raw, err := json.Marshal(ToWire(d))
	if err != nil {
		t.Fatal(err)
	}
	var w WireDocument
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatal(err)
	}
	restored, issues := FromWire(w)
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	if len(restored.Nodes()) != 3 || len(restored.Edges()) != 3 {
		t.Errorf("expected 3 nodes and 3 edges, got %d and %d", len(restored.Nodes()), len(restored.Edges()))
	}
	raw2, _ := json.Marshal(ToWire(restored))
	if string(raw) != string(raw2) {
		t.Errorf("expected identical JSON after reload\nfirst:  %s\nsecond: %s", raw, raw2)
	}
}

func TestFromWire_DropsWhatDoesNotResolve(t *testing.T) {
	w := WireDocument{
		Nodes: []WireNode{
			{ID: "q", Type: QueryIntake},
			{ID: "llm", Type: Inference},
			{ID: "mystery", Type: "vectorStore"},
			{ID: "q", Type: Output},
		},
		Edges: []WireEdge{
			{ID: "ok", Source: "q", Target: "llm", SourcePort: PortQuery, TargetPort: PortQuery},
			{ID: "dangling", Source: "deleted", Target: "llm", SourcePort: PortContext, TargetPort: PortContext},
			{ID: "bad", Source: "q", Target: "llm", SourcePort: PortQuery, TargetPort: PortContext},
		},
	}
	d, issues := FromWire(w)

	if len(d.Nodes()) != 2 {
		t.Errorf("expected 2 nodes, got %d", len(d.Nodes()))
	}
	edges := d.Edges()
	if len(edges) != 1 || edges[0].ID != "ok" {
		t.Errorf("expected only edge ok to survive, got %+v", edges)
	}
	for _, kind := range []error{ErrUnknownNodeType, ErrDuplicateID, ErrUnknownNode, ErrIncompatiblePorts} {
		if !HasIssue(issues, kind) {
			t.Errorf("expected a %v issue, got %v", kind, issues)
		}
	}
}

func TestFromWire_DefaultsMissingFields(t *testing.T) {
	w := WireDocument{Nodes: []WireNode{{ID: "llm", Type: Inference, Data: map[string]any{"model": "gemini-2.5-pro"}}}}
	d, _ := FromWire(w)

	cfg, err := d.Config("llm")
	if err != nil {
		t.Fatal(err)
	}
	inf := cfg.(*InferenceConfig)
	if inf.Model != "gemini-2.5-pro" {
		t.Errorf("expected stored model, got %q", inf.Model)
	}
	if inf.Temperature != DefaultTemperature || inf.AuthoredPrompt != DefaultAuthoredPrompt {
		t.Errorf("expected defaults for missing fields, got %+v", inf)
	}
	if d.Viewport() != DefaultViewport {
		t.Errorf("expected default viewport, got %+v", d.Viewport())
	}
}

func TestFromWire_KeepsDecodableFields(t *testing.T) {
	w := WireDocument{Nodes: []WireNode{{ID: "llm", Type: Inference, Data: map[string]any{
		"model":       "gemini-2.5-flash",
		"temperature": "very hot",
	}}}}
	d, issues := FromWire(w)

	if !HasIssue(issues, ErrInvalidField) {
		t.Errorf("expected an invalid field issue, got %v", issues)
	}
	cfg, _ := d.Config("llm")
	inf := cfg.(*InferenceConfig)
	if inf.Model != "gemini-2.5-flash" || inf.Temperature != DefaultTemperature {
		t.Errorf("expected model kept and temperature defaulted, got %+v", inf)
	}
}

func TestFromWire_HandlesAndInferredPorts(t *testing.T) {
	w := WireDocument{
		Nodes: []WireNode{
			{ID: "q", Type: QueryIntake},
			{ID: "kb", Type: KnowledgeBase, Data: map[string]any{"uploadSuccess": true}},
			{ID: "llm", Type: Inference},
			{ID: "out", Type: Output},
		},
		Edges: []WireEdge{
			{ID: "a", Source: "q", Target: "kb"},
			{ID: "b", Source: "kb", Target: "llm", SourceHandle: PortContext, TargetHandle: PortContext},
			{ID: "c", Source: "q", Target: "llm"},
			{ID: "d", Source: "llm", Target: "out"},
		},
	}
	d, issues := FromWire(w)
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}

	want := map[string][2]string{
		"a": {PortQuery, PortQuery},
		"b": {PortContext, PortContext},
		"c": {PortQuery, PortQuery},
		"d": {PortOutput, PortInput},
	}
	for _, e := range d.Edges() {
		if got := [2]string{e.SourcePort, e.TargetPort}; got != want[e.ID] {
			t.Errorf("edge %s: expected ports %v, got %v", e.ID, want[e.ID], got)
		}
	}
	if got, w := effective(t, d, "llm"), DefaultAuthoredPrompt+ContextClause+QueryClause; got != w {
		t.Errorf("expected effective template re-derived on load, got %q", got)
	}
}

func TestFromWire_SecondEdgeIntoInputReported(t *testing.T) {
	w := WireDocument{
		Nodes: []WireNode{
			{ID: "q1", Type: QueryIntake},
			{ID: "q2", Type: QueryIntake},
			{ID: "llm", Type: Inference},
		},
		Edges: []WireEdge{
			{ID: "first", Source: "q1", Target: "llm", SourcePort: PortQuery, TargetPort: PortQuery},
			{ID: "second", Source: "q2", Target: "llm", SourcePort: PortQuery, TargetPort: PortQuery},
		},
	}
	d, issues := FromWire(w)

	edges := d.Edges()
	if len(edges) != 1 || edges[0].ID != "second" {
		t.Errorf("expected only the later edge to survive, got %+v", edges)
	}
	if len(issues) != 1 || !errors.Is(issues[0].Kind, ErrPortOccupied) || issues[0].EdgeID != "first" {
		t.Errorf("expected one port occupied issue for edge first, got %v", issues)
	}
}

func TestFromWire_LegacyEffectiveOnly(t *testing.T) {
	w := WireDocument{
		Nodes: []WireNode{
			{ID: "llm", Type: Inference, Data: map[string]any{"prompt": "Be kind." + QueryClause}},
		},
	}
	d, _ := FromWire(w)
	cfg, _ := d.Config("llm")
	inf := cfg.(*InferenceConfig)
	if inf.AuthoredPrompt != "Be kind." {
		t.Errorf("expected authored template recovered, got %q", inf.AuthoredPrompt)
	}
	if inf.Prompt != "Be kind." {
		t.Errorf("expected query clause dropped for an unconnected node, got %q", inf.Prompt)
	}
}

func TestFromWire_CountersSkipLoadedIDs(t *testing.T) {
	w := WireDocument{Nodes: []WireNode{{ID: "node_1", Type: Output}, {ID: "node_2", Type: Output}}}
	d, _ := FromWire(w)
	n, err := d.AddNode(Output, Position{})
	if err != nil {
		t.Fatal(err)
	}
	if n.ID == "node_1" || n.ID == "node_2" {
		t.Errorf("expected a fresh id, got %q", n.ID)
	}
}
