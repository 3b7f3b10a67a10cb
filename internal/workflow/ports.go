package workflow

import (
	"fmt"
	"slices"
)

// Port names.
const (
	PortQuery   = "query"
	PortContext = "context"
	PortOutput  = "output"
	PortInput   = "input"
)

type portSet struct {
	inputs  []string
	outputs []string
}

var portTable = map[NodeType]portSet{
	QueryIntake:   {outputs: []string{PortQuery}},
	KnowledgeBase: {inputs: []string{PortQuery}, outputs: []string{PortContext}},
	Inference:     {inputs: []string{PortQuery, PortContext}, outputs: []string{PortOutput}},
	Output:        {inputs: []string{PortInput}},
}

// feeds maps an output port to the only input port it may connect to.
var feeds = map[string]string{
	PortQuery:   PortQuery,
	PortContext: PortContext,
	PortOutput:  PortInput,
}

// InputPorts returns the input ports declared by t.
func InputPorts(t NodeType) []string {
	return slices.Clone(portTable[t].inputs)
}

// OutputPorts returns the output ports declared by t.
func OutputPorts(t NodeType) []string {
	return slices.Clone(portTable[t].outputs)
}

// HasInput reports whether t declares the input port p.
func HasInput(t NodeType, p string) bool {
	return slices.Contains(portTable[t].inputs, p)
}

// HasOutput reports whether t declares the output port p.
func HasOutput(t NodeType, p string) bool {
	return slices.Contains(portTable[t].outputs, p)
}

// CheckConnection reports whether an edge from (src, srcPort) to
// (dst, dstPort) is allowed by the port table. It does not look at any
// document, so occupation and self loops are the caller's concern.
func CheckConnection(src NodeType, srcPort string, dst NodeType, dstPort string) error {
	if !HasOutput(src, srcPort) {
		return fmt.Errorf("%w: %s has no output port %q", ErrIncompatiblePorts, src, srcPort)
	}
	if !HasInput(dst, dstPort) {
		return fmt.Errorf("%w: %s has no input port %q", ErrIncompatiblePorts, dst, dstPort)
	}
	if feeds[srcPort] != dstPort {
		return fmt.Errorf("%w: %s.%s cannot feed %s.%s", ErrIncompatiblePorts, src, srcPort, dst, dstPort)
	}
	return nil
}

// inferPorts fills in missing port names when the node types leave only one
// choice. Explicit ports are returned unchanged.
func inferPorts(src NodeType, srcPort string, dst NodeType, dstPort string) (string, string) {
	if srcPort == "" {
		if outs := portTable[src].outputs; len(outs) == 1 {
			srcPort = outs[0]
		}
	}
	if dstPort == "" {
		if want, ok := feeds[srcPort]; ok && HasInput(dst, want) {
			dstPort = want
		} else if ins := portTable[dst].inputs; len(ins) == 1 {
			dstPort = ins[0]
		}
	}
	return srcPort, dstPort
}
