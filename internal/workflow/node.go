package workflow

// NodeType identifies the processing stage a node represents. The values are
// the type strings used in the persisted document.
type NodeType string

const (
	QueryIntake   NodeType = "userQuery"
	KnowledgeBase NodeType = "knowledgeBase"
	Inference     NodeType = "llm"
	Output        NodeType = "output"
)

// NodeTypes lists every supported node type in palette order.
var NodeTypes = []NodeType{QueryIntake, KnowledgeBase, Inference, Output}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case QueryIntake, KnowledgeBase, Inference, Output:
		return true
	}
	return false
}

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the canvas pan and zoom saved with the document.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is the viewport of a freshly created document.
var DefaultViewport = Viewport{Zoom: 1}

// Node is a snapshot of one node in a document. Data is a private copy;
// changes to it are not seen by the document (use Document.Patch).
type Node struct {
	ID       string
	Type     NodeType
	Position Position
	Data     NodeConfig
}

// Edge is a directed port-to-port connection.
type Edge struct {
	ID         string
	Source     string
	Target     string
	SourcePort string
	TargetPort string
	Label      any
}

func (n *Node) snapshot() Node {
	return Node{ID: n.ID, Type: n.Type, Position: n.Position, Data: n.Data.clone()}
}
