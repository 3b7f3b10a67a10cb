package workflow

import (
	"errors"
	"fmt"
)

// Errors returned by document mutations. Each one rejects only the attempted
// operation; the document is left as it was.
var (
	ErrIncompatiblePorts = errors.New("incompatible ports")
	ErrSelfConnection    = errors.New("self connection")
	ErrUnknownNode       = errors.New("unknown node")
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrInvalidField      = errors.New("invalid field")
	ErrDuplicateID       = errors.New("duplicate id")
)

// Conditions reported to the user rather than raised by the editing surface.
// Save and execute refuse a graph with ErrCyclicGraph; the collaborator
// failures are wrapped by the packages that talk to storage or the runtime.
var (
	ErrCyclicGraph         = errors.New("cyclic graph")
	ErrPortOccupied        = errors.New("port occupied")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrExecutionFailure    = errors.New("execution failure")
)

// Issue is a non-fatal finding about a document: a cycle, a missing input,
// or something dropped while hydrating from the wire form.
type Issue struct {
	Kind    error  `json:"-"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	switch {
	case i.NodeID != "":
		return fmt.Sprintf("%v: node %s: %s", i.Kind, i.NodeID, i.Message)
	case i.EdgeID != "":
		return fmt.Sprintf("%v: edge %s: %s", i.Kind, i.EdgeID, i.Message)
	default:
		return fmt.Sprintf("%v: %s", i.Kind, i.Message)
	}
}

// Code returns the issue kind as a stable string for API responses.
func (i Issue) Code() string {
	if i.Kind == nil {
		return ""
	}
	return i.Kind.Error()
}

// HasIssue reports whether any issue in the list is of the given kind.
func HasIssue(issues []Issue, kind error) bool {
	for _, is := range issues {
		if errors.Is(is.Kind, kind) {
			return true
		}
	}
	return false
}
