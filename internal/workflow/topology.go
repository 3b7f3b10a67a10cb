package workflow

import "fmt"

// UpstreamOf returns the node feeding port of node id, and the edge that
// connects them. ok is false when the port is unconnected.
func (d *Document) UpstreamOf(id, port string) (Node, Edge, bool) {
	src, e := d.upstream(id, port)
	if src == nil {
		return Node{}, Edge{}, false
	}
	return src.snapshot(), *e, true
}

func (d *Document) upstream(id, port string) (*Node, *Edge) {
	e := d.inbound[portKey{id, port}]
	if e == nil {
		return nil, nil
	}
	src := d.nodeIdx[e.Source]
	if src == nil {
		return nil, nil
	}
	return src, e
}

func (d *Document) incoming(id string) []*Edge {
	var out []*Edge
	for _, e := range d.edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

func (d *Document) outgoing(id string) []*Edge {
	var out []*Edge
	for _, e := range d.edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// DFS visit states.
const (
	unvisited = iota
	visiting
	visited
)

// ReachableAncestors walks incoming edges from id and returns every node it
// can reach, nearest producers first. Each node is visited at most once, so
// the walk terminates on cyclic graphs; every edge that closes a cycle is
// reported as an ErrCyclicGraph issue.
func (d *Document) ReachableAncestors(id string) ([]string, []Issue) {
	if _, ok := d.nodeIdx[id]; !ok {
		return nil, nil
	}

	state := make(map[string]int, len(d.nodes))
	var ancestors []string
	var issues []Issue

	var visit func(string)
	visit = func(n string) {
		state[n] = visiting
		for _, e := range d.incoming(n) {
			if _, ok := d.nodeIdx[e.Source]; !ok {
				continue
			}
			switch state[e.Source] {
			case visiting:
				issues = append(issues, cycleIssue(e))
			case unvisited:
				ancestors = append(ancestors, e.Source)
				visit(e.Source)
			}
		}
		state[n] = visited
	}
	visit(id)

	return ancestors, issues
}

// HasCycle reports whether the graph contains a directed cycle.
func (d *Document) HasCycle() bool {
	_, err := d.TopologicalOrder()
	return err != nil
}

// TopologicalOrder returns the nodes ordered so every producer precedes its
// consumers. Ties keep insertion order. A cyclic graph yields ErrCyclicGraph.
func (d *Document) TopologicalOrder() ([]Node, error) {
	indeg := make(map[string]int, len(d.nodes))
	for _, e := range d.edges {
		if d.hasNode(e.Source) && d.hasNode(e.Target) {
			indeg[e.Target]++
		}
	}

	queue := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, e := range d.outgoing(queue[i].ID) {
			if !d.hasNode(e.Target) {
				continue
			}
			indeg[e.Target]--
			if indeg[e.Target] == 0 {
				queue = append(queue, d.nodeIdx[e.Target])
			}
		}
	}

	if len(queue) != len(d.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes are on or behind a cycle",
			ErrCyclicGraph, len(d.nodes)-len(queue), len(d.nodes))
	}

	out := make([]Node, len(queue))
	for i, n := range queue {
		out[i] = n.snapshot()
	}
	return out, nil
}

// Validate inspects the whole document and returns every non-fatal issue:
// cycles, edges that break the port table, and unconnected or unready
// inputs. An empty result means the graph is ready to run.
func (d *Document) Validate() []Issue {
	var issues []Issue

	for _, e := range d.edges {
		src, dst := d.nodeIdx[e.Source], d.nodeIdx[e.Target]
		if src == nil || dst == nil {
			issues = append(issues, Issue{Kind: ErrUnknownNode, EdgeID: e.ID,
				Message: fmt.Sprintf("endpoint %s -> %s does not resolve", e.Source, e.Target)})
			continue
		}
		if err := CheckConnection(src.Type, e.SourcePort, dst.Type, e.TargetPort); err != nil {
			issues = append(issues, Issue{Kind: ErrIncompatiblePorts, EdgeID: e.ID, Message: err.Error()})
		}
	}

	state := make(map[string]int, len(d.nodes))
	var visit func(string)
	visit = func(n string) {
		state[n] = visiting
		for _, e := range d.outgoing(n) {
			if !d.hasNode(e.Target) {
				continue
			}
			switch state[e.Target] {
			case visiting:
				issues = append(issues, cycleIssue(e))
			case unvisited:
				visit(e.Target)
			}
		}
		state[n] = visited
	}
	for _, n := range d.nodes {
		if state[n.ID] == unvisited {
			visit(n.ID)
		}
	}

	for _, n := range d.nodes {
		issues = append(issues, d.inputIssues(n)...)
	}
	return issues
}

func (d *Document) inputIssues(n *Node) []Issue {
	var issues []Issue
	missing := func(port string) {
		issues = append(issues, Issue{Kind: ErrUpstreamUnavailable, NodeID: n.ID,
			Message: fmt.Sprintf("%s input is not connected", port)})
	}

	switch n.Type {
	case KnowledgeBase:
		if src, _ := d.upstream(n.ID, PortQuery); src == nil {
			missing(PortQuery)
		}
	case Inference:
		if src, _ := d.upstream(n.ID, PortQuery); src == nil {
			missing(PortQuery)
		}
		if src, _ := d.upstream(n.ID, PortContext); src != nil {
			if kb, ok := src.Data.(*KnowledgeBaseConfig); ok && !kb.Ready {
				issues = append(issues, Issue{Kind: ErrUpstreamUnavailable, NodeID: n.ID,
					Message: fmt.Sprintf("knowledge base %s is not ready", src.ID)})
			}
		}
	case Output:
		if src, _ := d.upstream(n.ID, PortInput); src == nil {
			missing(PortInput)
		}
	}
	return issues
}

func cycleIssue(e *Edge) Issue {
	return Issue{
		Kind:    ErrCyclicGraph,
		EdgeID:  e.ID,
		Message: fmt.Sprintf("edge %s -> %s closes a cycle", e.Source, e.Target),
	}
}
