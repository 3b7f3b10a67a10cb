package workflow

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/google/uuid"
)

// ChangeKind names what a mutation did.
type ChangeKind string

const (
	NodeAdded         ChangeKind = "node_added"
	NodeRemoved       ChangeKind = "node_removed"
	NodeMoved         ChangeKind = "node_moved"
	NodePatched       ChangeKind = "node_patched"
	EdgeAdded         ChangeKind = "edge_added"
	EdgeRemoved       ChangeKind = "edge_removed"
	ViewportChanged   ChangeKind = "viewport_changed"
	PromptSynthesized ChangeKind = "prompt_synthesized"
)

// Change is delivered to subscribers after a mutation and the recompute it
// triggered have both completed.
type Change struct {
	Kind   ChangeKind
	NodeID string
	EdgeID string
}

// Option configures a Document.
type Option func(*Document)

// WithIDGenerator replaces the per-document counter with gen. gen receives
// "node" or "edge" and may return any string; ids already in use are
// rejected and the counter takes over after repeated collisions.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(d *Document) { d.genID = gen }
}

// WithRandomIDs generates ids of the form "node_<uuid>".
func WithRandomIDs() Option {
	return WithIDGenerator(func(prefix string) string {
		return prefix + "_" + uuid.NewString()
	})
}

type portKey struct {
	node string
	port string
}

// Document is a workflow graph: nodes, edges and the canvas viewport.
//
// A Document is not safe for concurrent use. Every mutation runs to
// completion, including re-synthesis of affected Inference nodes, before it
// returns; callers that receive events from several goroutines must
// serialize them (see the editor package).
type Document struct {
	nodes    []*Node
	nodeIdx  map[string]*Node
	edges    []*Edge
	edgeIdx  map[string]*Edge
	inbound  map[portKey]*Edge
	viewport Viewport

	counters map[string]int
	genID    func(prefix string) string

	dirty    map[string]struct{}
	pending  []Change
	flushing bool
	subs     map[int]func(Change)
	nextSub  int
}

// New returns an empty document.
func New(opts ...Option) *Document {
	d := &Document{
		nodeIdx:  make(map[string]*Node),
		edgeIdx:  make(map[string]*Edge),
		inbound:  make(map[portKey]*Edge),
		viewport: DefaultViewport,
		counters: make(map[string]int),
		dirty:    make(map[string]struct{}),
		subs:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers fn to be called for every change. The returned
// function removes the subscription.
func (d *Document) Subscribe(fn func(Change)) (cancel func()) {
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() { delete(d.subs, id) }
}

// AddNode creates a node of type t with its default configuration.
func (d *Document) AddNode(t NodeType, pos Position) (Node, error) {
	cfg := DefaultConfig(t)
	if cfg == nil {
		return Node{}, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
	n := &Node{ID: d.newID("node", d.hasNode), Type: t, Position: pos, Data: cfg}
	d.insertNode(n)
	d.flush()
	return n.snapshot(), nil
}

// RemoveNode deletes a node together with every edge touching it.
func (d *Document) RemoveNode(id string) error {
	n, ok := d.nodeIdx[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	for _, e := range slices.Clone(d.edges) {
		if e.Source == id || e.Target == id {
			d.deleteEdge(e)
		}
	}
	d.deleteNode(n)
	d.flush()
	return nil
}

// AddEdge connects source.sourcePort to target.targetPort. An edge already
// occupying the target port is replaced; reconnecting the same source is a
// no-op that returns the existing edge.
func (d *Document) AddEdge(source, sourcePort, target, targetPort string) (Edge, error) {
	src, ok := d.nodeIdx[source]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrUnknownNode, source)
	}
	dst, ok := d.nodeIdx[target]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrUnknownNode, target)
	}
	if source == target {
		return Edge{}, fmt.Errorf("%w: %s", ErrSelfConnection, source)
	}
	if err := CheckConnection(src.Type, sourcePort, dst.Type, targetPort); err != nil {
		return Edge{}, err
	}

	if cur := d.inbound[portKey{target, targetPort}]; cur != nil {
		if cur.Source == source && cur.SourcePort == sourcePort {
			return *cur, nil
		}
		d.deleteEdge(cur)
	}
	e := &Edge{
		ID:         d.newID("edge", d.hasEdge),
		Source:     source,
		Target:     target,
		SourcePort: sourcePort,
		TargetPort: targetPort,
	}
	d.insertEdge(e)
	d.flush()
	return *e, nil
}

// RemoveEdge deletes the edge with the given id, if any.
func (d *Document) RemoveEdge(id string) bool {
	e, ok := d.edgeIdx[id]
	if !ok {
		return false
	}
	d.deleteEdge(e)
	d.flush()
	return true
}

// MoveNode updates a node's canvas position.
func (d *Document) MoveNode(id string, pos Position) error {
	n, ok := d.nodeIdx[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.Position = pos
	d.emit(Change{Kind: NodeMoved, NodeID: id})
	d.flush()
	return nil
}

// SetViewport records the canvas pan and zoom.
func (d *Document) SetViewport(v Viewport) {
	d.viewport = v
	d.emit(Change{Kind: ViewportChanged})
	d.flush()
}

// Viewport returns the saved canvas pan and zoom.
func (d *Document) Viewport() Viewport { return d.viewport }

// Patch shallow-merges fields into a node's configuration: present keys are
// overwritten, new keys added, nested values replaced whole. A field that
// cannot be decoded fails the whole patch with ErrInvalidField and the node
// keeps its previous configuration. A nil value clears a typed field.
// Writing an inference node's "prompt" sets its authored template with the
// synthesized clauses stripped, unless "initialPrompt" is also given.
func (d *Document) Patch(id string, fields map[string]any) error {
	n, ok := d.nodeIdx[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	next, err := mergeFields(n.Data, routePrompt(n.Data, fields))
	if err != nil {
		return fmt.Errorf("patch %s: %w", id, err)
	}
	n.Data = next
	d.emit(Change{Kind: NodePatched, NodeID: id})
	d.markDirty(id)
	for _, e := range d.outgoing(id) {
		d.markDirty(e.Target)
	}
	d.flush()
	return nil
}

// Config returns a copy of a node's configuration.
func (d *Document) Config(id string) (NodeConfig, error) {
	n, ok := d.nodeIdx[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n.Data.clone(), nil
}

// Node returns a snapshot of the node with the given id.
func (d *Document) Node(id string) (Node, bool) {
	n, ok := d.nodeIdx[id]
	if !ok {
		return Node{}, false
	}
	return n.snapshot(), true
}

// Nodes returns snapshots of all nodes in insertion order.
func (d *Document) Nodes() []Node {
	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n.snapshot())
	}
	return out
}

// Edge returns the edge with the given id.
func (d *Document) Edge(id string) (Edge, bool) {
	e, ok := d.edgeIdx[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Edges returns all edges in insertion order.
func (d *Document) Edges() []Edge {
	out := make([]Edge, 0, len(d.edges))
	for _, e := range d.edges {
		out = append(out, *e)
	}
	return out
}

// Resynthesize recomputes the effective template of every Inference node.
func (d *Document) Resynthesize() {
	for _, n := range d.nodes {
		d.markDirty(n.ID)
	}
	d.flush()
}

func (d *Document) hasNode(id string) bool { _, ok := d.nodeIdx[id]; return ok }
func (d *Document) hasEdge(id string) bool { _, ok := d.edgeIdx[id]; return ok }

func (d *Document) newID(prefix string, taken func(string) bool) string {
	if d.genID != nil {
		for range 8 {
			if id := d.genID(prefix); id != "" && !taken(id) {
				return id
			}
		}
	}
	for {
		d.counters[prefix]++
		id := prefix + "_" + strconv.Itoa(d.counters[prefix])
		if !taken(id) {
			return id
		}
	}
}

func (d *Document) insertNode(n *Node) {
	d.nodes = append(d.nodes, n)
	d.nodeIdx[n.ID] = n
	d.emit(Change{Kind: NodeAdded, NodeID: n.ID})
	d.markDirty(n.ID)
}

func (d *Document) deleteNode(n *Node) {
	d.nodes = slices.DeleteFunc(d.nodes, func(x *Node) bool { return x == n })
	delete(d.nodeIdx, n.ID)
	delete(d.dirty, n.ID)
	d.emit(Change{Kind: NodeRemoved, NodeID: n.ID})
}

// insertEdge adds e without consulting the port table. Callers check.
func (d *Document) insertEdge(e *Edge) {
	d.edges = append(d.edges, e)
	d.edgeIdx[e.ID] = e
	d.inbound[portKey{e.Target, e.TargetPort}] = e
	d.emit(Change{Kind: EdgeAdded, EdgeID: e.ID})
	d.markDirty(e.Target)
}

func (d *Document) deleteEdge(e *Edge) {
	d.edges = slices.DeleteFunc(d.edges, func(x *Edge) bool { return x == e })
	delete(d.edgeIdx, e.ID)
	key := portKey{e.Target, e.TargetPort}
	if d.inbound[key] == e {
		delete(d.inbound, key)
	}
	d.emit(Change{Kind: EdgeRemoved, EdgeID: e.ID})
	d.markDirty(e.Target)
}

func (d *Document) markDirty(id string) {
	if _, ok := d.nodeIdx[id]; ok {
		d.dirty[id] = struct{}{}
	}
}

func (d *Document) emit(c Change) {
	d.pending = append(d.pending, c)
}

// flush re-synthesizes dirty nodes and then notifies subscribers. A
// subscriber that mutates the document is handled by the outer loop.
func (d *Document) flush() {
	if d.flushing {
		return
	}
	d.flushing = true
	defer func() { d.flushing = false }()

	for {
		d.recompute()
		if len(d.pending) == 0 {
			return
		}
		batch := d.pending
		d.pending = nil
		ids := slices.Sorted(maps.Keys(d.subs))
		for _, c := range batch {
			for _, id := range ids {
				if fn, ok := d.subs[id]; ok {
					fn(c)
				}
			}
		}
	}
}

func (d *Document) recompute() {
	for len(d.dirty) > 0 {
		ids := slices.Sorted(maps.Keys(d.dirty))
		clear(d.dirty)
		for _, id := range ids {
			d.synthesizeNode(id)
		}
	}
}
