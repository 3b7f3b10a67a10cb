package workflow

import "strings"

// Placeholders substituted at execution time, and the clauses synthesis
// appends to introduce them.
const (
	ContextPlaceholder = "{context}"
	QueryPlaceholder   = "{query}"

	ContextClause = "\n\nContext: " + ContextPlaceholder
	QueryClause   = "\n\nUser Query: " + QueryPlaceholder
)

// SynthesisInput is everything the effective template depends on.
type SynthesisInput struct {
	Authored     string
	HasQuery     bool
	HasContext   bool
	ContextReady bool
}

// Synthesize derives an Inference node's effective template from its
// authored template and what is wired into it. The context clause comes
// first and needs a ready knowledge base; the query clause needs only a
// connected query port. A blank authored template falls back to
// DefaultAuthoredPrompt.
func Synthesize(in SynthesisInput) string {
	base := in.Authored
	if strings.TrimSpace(base) == "" {
		base = DefaultAuthoredPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	if in.HasContext && in.ContextReady {
		b.WriteString(ContextClause)
	}
	if in.HasQuery {
		b.WriteString(QueryClause)
	}
	return b.String()
}

// StripClauses removes clauses added by Synthesize from the end of an
// effective template, recovering the authored text. Documents saved before
// the authored template was stored separately only carry the effective one.
func StripClauses(prompt string) string {
	prompt = strings.TrimSuffix(prompt, QueryClause)
	return strings.TrimSuffix(prompt, ContextClause)
}

// Render substitutes the context and query placeholders in a template.
func Render(template, context, query string) string {
	return strings.NewReplacer(ContextPlaceholder, context, QueryPlaceholder, query).Replace(template)
}

// SynthesisInputOf reports what the effective template of Inference node id
// depends on. ok is false if id is not an Inference node.
func (d *Document) SynthesisInputOf(id string) (in SynthesisInput, ok bool) {
	n, exists := d.nodeIdx[id]
	if !exists {
		return SynthesisInput{}, false
	}
	cfg, isInference := n.Data.(*InferenceConfig)
	if !isInference {
		return SynthesisInput{}, false
	}
	return d.synthesisInput(id, cfg), true
}

func (d *Document) synthesisInput(id string, cfg *InferenceConfig) SynthesisInput {
	in := SynthesisInput{Authored: cfg.AuthoredPrompt}
	if src, _ := d.upstream(id, PortQuery); src != nil {
		in.HasQuery = true
	}
	if src, _ := d.upstream(id, PortContext); src != nil {
		in.HasContext = true
		if kb, ok := src.Data.(*KnowledgeBaseConfig); ok {
			in.ContextReady = kb.Ready
		}
	}
	return in
}

// synthesizeNode patches the effective template of an Inference node when
// the derived value differs from the stored one.
func (d *Document) synthesizeNode(id string) {
	n, ok := d.nodeIdx[id]
	if !ok {
		return
	}
	cfg, ok := n.Data.(*InferenceConfig)
	if !ok {
		return
	}
	effective := Synthesize(d.synthesisInput(id, cfg))
	if effective == cfg.Prompt {
		return
	}
	cfg.Prompt = effective
	d.emit(Change{Kind: PromptSynthesized, NodeID: id})
}
