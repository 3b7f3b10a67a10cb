package workflow

import (
	"fmt"
	"maps"
	"slices"
)

// WireDocument is the persisted form of a Document.
type WireDocument struct {
	Nodes    []WireNode `json:"nodes"`
	Edges    []WireEdge `json:"edges"`
	Viewport Viewport   `json:"viewport"`
}

// WireNode is a node in the persisted form.
type WireNode struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
}

// WireEdge is an edge in the persisted form. The canvas library names ports
// "handles"; SourceHandle and TargetHandle are read when the port fields are
// empty and always written alongside them.
type WireEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourcePort   string `json:"sourcePort,omitempty"`
	TargetPort   string `json:"targetPort,omitempty"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Label        any    `json:"label,omitempty"`
}

// EmptyWire returns the persisted form of a new, empty document.
func EmptyWire() WireDocument {
	return WireDocument{Nodes: []WireNode{}, Edges: []WireEdge{}, Viewport: DefaultViewport}
}

// ToWire flattens d to its persisted form.
func ToWire(d *Document) WireDocument {
	w := WireDocument{
		Nodes:    make([]WireNode, 0, len(d.nodes)),
		Edges:    make([]WireEdge, 0, len(d.edges)),
		Viewport: d.viewport,
	}
	for _, n := range d.nodes {
		w.Nodes = append(w.Nodes, WireNode{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.Position,
			Data:     n.Data.Fields(),
		})
	}
	for _, e := range d.edges {
		w.Edges = append(w.Edges, WireEdge{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			SourcePort:   e.SourcePort,
			TargetPort:   e.TargetPort,
			SourceHandle: e.SourcePort,
			TargetHandle: e.TargetPort,
			Label:        e.Label,
		})
	}
	return w
}

// FromWire rebuilds a Document from its persisted form. Loading never fails
// as a whole: nodes of unknown type, duplicate ids and edges that do not
// resolve or break the port table are dropped and reported as issues. Fields
// missing from a node's data take their defaults, and effective templates
// are re-derived from the loaded graph.
func FromWire(w WireDocument, opts ...Option) (*Document, []Issue) {
	d := New(opts...)
	var issues []Issue

	if w.Viewport != (Viewport{}) {
		d.viewport = w.Viewport
	}

	for _, wn := range w.Nodes {
		base := DefaultConfig(wn.Type)
		if base == nil {
			issues = append(issues, Issue{Kind: ErrUnknownNodeType, NodeID: wn.ID,
				Message: fmt.Sprintf("node type %q is not supported; node dropped", wn.Type)})
			continue
		}
		id := wn.ID
		if id == "" {
			id = d.newID("node", d.hasNode)
		} else if d.hasNode(id) {
			issues = append(issues, Issue{Kind: ErrDuplicateID, NodeID: id,
				Message: "node id appears more than once; later node dropped"})
			continue
		}

		cfg, cfgIssues := hydrateConfig(id, base, wn.Data)
		issues = append(issues, cfgIssues...)
		d.insertNode(&Node{ID: id, Type: wn.Type, Position: wn.Position, Data: cfg})
	}

	for _, we := range w.Edges {
		issues = append(issues, d.hydrateEdge(we)...)
	}

	// Hydration is not a user edit.
	d.pending = nil
	d.Resynthesize()
	return d, issues
}

func hydrateConfig(id string, base NodeConfig, data map[string]any) (NodeConfig, []Issue) {
	data = routePrompt(base, data)
	cfg, err := mergeFields(base, data)
	if err == nil {
		return cfg, nil
	}

	// Keep every field that decodes on its own.
	var issues []Issue
	cfg = base
	for _, k := range slices.Sorted(maps.Keys(data)) {
		next, err := mergeFields(cfg, map[string]any{k: data[k]})
		if err != nil {
			issues = append(issues, Issue{Kind: ErrInvalidField, NodeID: id,
				Message: fmt.Sprintf("field %q ignored: %v", k, err)})
			continue
		}
		cfg = next
	}
	return cfg, issues
}

// hydrateEdge inserts we. An input already fed by an earlier edge keeps only
// the later one, as AddEdge does, and the earlier edge is reported.
func (d *Document) hydrateEdge(we WireEdge) []Issue {
	src, dst := d.nodeIdx[we.Source], d.nodeIdx[we.Target]
	if src == nil || dst == nil {
		return []Issue{{Kind: ErrUnknownNode, EdgeID: we.ID,
			Message: fmt.Sprintf("endpoint %s -> %s does not resolve; edge dropped", we.Source, we.Target)}}
	}
	if src == dst {
		return []Issue{{Kind: ErrSelfConnection, EdgeID: we.ID, Message: "self connection; edge dropped"}}
	}

	srcPort, dstPort := we.SourcePort, we.TargetPort
	if srcPort == "" {
		srcPort = we.SourceHandle
	}
	if dstPort == "" {
		dstPort = we.TargetHandle
	}
	srcPort, dstPort = inferPorts(src.Type, srcPort, dst.Type, dstPort)
	if err := CheckConnection(src.Type, srcPort, dst.Type, dstPort); err != nil {
		return []Issue{{Kind: ErrIncompatiblePorts, EdgeID: we.ID, Message: err.Error() + "; edge dropped"}}
	}

	id := we.ID
	if id == "" || d.hasEdge(id) {
		id = d.newID("edge", d.hasEdge)
	}
	var issues []Issue
	if cur := d.inbound[portKey{dst.ID, dstPort}]; cur != nil {
		issues = append(issues, Issue{Kind: ErrPortOccupied, EdgeID: cur.ID,
			Message: fmt.Sprintf("input %s.%s is also fed by edge %s; edge dropped", dst.ID, dstPort, id)})
		d.deleteEdge(cur)
	}
	d.insertEdge(&Edge{
		ID:         id,
		Source:     src.ID,
		Target:     dst.ID,
		SourcePort: srcPort,
		TargetPort: dstPort,
		Label:      we.Label,
	})
	return issues
}
