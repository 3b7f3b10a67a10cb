package workflow

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// NodeConfig is the per-node configuration. There is one variant per
// NodeType; type-switch on *QueryIntakeConfig, *KnowledgeBaseConfig,
// *InferenceConfig or *OutputConfig to read it.
type NodeConfig interface {
	// NodeType returns the node type this configuration belongs to.
	NodeType() NodeType
	// Fields returns the configuration in its wire form, unknown keys included.
	Fields() map[string]any

	clone() NodeConfig
	extras() *map[string]any
	validate() error
}

// Default field values.
const (
	DefaultQuery          = "Write your query here"
	DefaultEmbeddingModel = "gemini-embedding-001"
	DefaultModel          = "gemini-1.5-flash"
	DefaultAuthoredPrompt = "You are a helpful assistant."
	DefaultTemperature    = 0.7
	DefaultOutputText     = "Output will be generated here."
)

// QueryIntakeConfig holds the query typed into a QueryIntake node.
type QueryIntakeConfig struct {
	Label string `mapstructure:"label"`
	Query string `mapstructure:"query"`

	Extra map[string]any
}

// NodeType implements NodeConfig.
func (c *QueryIntakeConfig) NodeType() NodeType { return QueryIntake }

// Fields implements NodeConfig.
func (c *QueryIntakeConfig) Fields() map[string]any {
	m := cloneExtra(c.Extra)
	m["label"] = c.Label
	m["query"] = c.Query
	return m
}

func (c *QueryIntakeConfig) clone() NodeConfig {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	return &cp
}

func (c *QueryIntakeConfig) extras() *map[string]any { return &c.Extra }
func (c *QueryIntakeConfig) validate() error         { return nil }

// KnowledgeBaseConfig describes a document collection. Ready is set once the
// ingestion service reports the collection usable; it is stored under the
// wire key "uploadSuccess".
type KnowledgeBaseConfig struct {
	Label          string `mapstructure:"label"`
	EmbeddingModel string `mapstructure:"embeddingModel"`
	APIKey         string `mapstructure:"apiKey"`
	FileName       string `mapstructure:"fileName"`
	CollectionName string `mapstructure:"collectionName"`
	Ready          bool   `mapstructure:"uploadSuccess"`

	Extra map[string]any
}

// NodeType implements NodeConfig.
func (c *KnowledgeBaseConfig) NodeType() NodeType { return KnowledgeBase }

// Fields implements NodeConfig.
func (c *KnowledgeBaseConfig) Fields() map[string]any {
	m := cloneExtra(c.Extra)
	m["label"] = c.Label
	m["embeddingModel"] = c.EmbeddingModel
	m["apiKey"] = c.APIKey
	m["fileName"] = c.FileName
	m["collectionName"] = c.CollectionName
	m["uploadSuccess"] = c.Ready
	return m
}

func (c *KnowledgeBaseConfig) clone() NodeConfig {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	return &cp
}

func (c *KnowledgeBaseConfig) extras() *map[string]any { return &c.Extra }
func (c *KnowledgeBaseConfig) validate() error         { return nil }

// InferenceConfig configures a generative model call.
//
// AuthoredPrompt ("initialPrompt" on the wire) is the template the user
// typed. Prompt ("prompt") is the effective template derived from it by
// Synthesize; it is recomputed after every mutation that could change it.
// A patch that writes only Prompt sets AuthoredPrompt from it instead.
type InferenceConfig struct {
	Label          string  `mapstructure:"label"`
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"apiKey"`
	AuthoredPrompt string  `mapstructure:"initialPrompt"`
	Prompt         string  `mapstructure:"prompt"`
	Temperature    float64 `mapstructure:"temperature"`
	WebSearch      bool    `mapstructure:"webSearch"`
	SerpAPIKey     string  `mapstructure:"serpApi"`

	Extra map[string]any
}

// NodeType implements NodeConfig.
func (c *InferenceConfig) NodeType() NodeType { return Inference }

// Fields implements NodeConfig.
func (c *InferenceConfig) Fields() map[string]any {
	m := cloneExtra(c.Extra)
	m["label"] = c.Label
	m["model"] = c.Model
	m["apiKey"] = c.APIKey
	m["initialPrompt"] = c.AuthoredPrompt
	m["prompt"] = c.Prompt
	m["temperature"] = c.Temperature
	m["webSearch"] = c.WebSearch
	m["serpApi"] = c.SerpAPIKey
	return m
}

func (c *InferenceConfig) clone() NodeConfig {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	return &cp
}

func (c *InferenceConfig) extras() *map[string]any { return &c.Extra }

func (c *InferenceConfig) validate() error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("%w: temperature %v outside [0, 1]", ErrInvalidField, c.Temperature)
	}
	return nil
}

// OutputConfig holds the text shown by an Output node.
type OutputConfig struct {
	Label string `mapstructure:"label"`
	Text  string `mapstructure:"outputText"`

	Extra map[string]any
}

// NodeType implements NodeConfig.
func (c *OutputConfig) NodeType() NodeType { return Output }

// Fields implements NodeConfig.
func (c *OutputConfig) Fields() map[string]any {
	m := cloneExtra(c.Extra)
	m["label"] = c.Label
	m["outputText"] = c.Text
	return m
}

func (c *OutputConfig) clone() NodeConfig {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	return &cp
}

func (c *OutputConfig) extras() *map[string]any { return &c.Extra }
func (c *OutputConfig) validate() error         { return nil }

// DefaultConfig returns the configuration a new node of type t starts with,
// or nil if t is not a known type.
func DefaultConfig(t NodeType) NodeConfig {
	switch t {
	case QueryIntake:
		return &QueryIntakeConfig{Label: "User Input", Query: DefaultQuery}
	case KnowledgeBase:
		return &KnowledgeBaseConfig{Label: "Knowledge Base", EmbeddingModel: DefaultEmbeddingModel}
	case Inference:
		return &InferenceConfig{
			Label:          "LLM Model",
			Model:          DefaultModel,
			AuthoredPrompt: DefaultAuthoredPrompt,
			Prompt:         DefaultAuthoredPrompt,
			Temperature:    DefaultTemperature,
		}
	case Output:
		return &OutputConfig{Label: "Output", Text: DefaultOutputText}
	}
	return nil
}

// mergeFields returns a copy of cfg with fields shallow-merged into it.
// Known keys are decoded into their typed field, accepting the string forms
// a form input produces ("0.3", "true"). Unknown keys are kept verbatim.
// cfg itself is never modified.
func mergeFields(cfg NodeConfig, fields map[string]any) (NodeConfig, error) {
	next := cfg.clone()
	if len(fields) == 0 {
		return next, nil
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:               next,
		Metadata:             &md,
		WeaklyTypedInput:     true,
		IgnoreUntaggedFields: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	clearNulls(next, fields)

	if len(md.Unused) > 0 {
		extra := next.extras()
		if *extra == nil {
			*extra = make(map[string]any, len(md.Unused))
		}
		for _, k := range md.Unused {
			(*extra)[k] = fields[k]
		}
	}

	if err := next.validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// clearNulls zeroes each typed field that fields sets to nil. The decoder
// leaves a field untouched for a nil value.
func clearNulls(cfg NodeConfig, fields map[string]any) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for k, val := range fields {
		if val != nil {
			continue
		}
		for i := range t.NumField() {
			if tag := t.Field(i).Tag.Get("mapstructure"); tag != "" && strings.EqualFold(tag, k) {
				v.Field(i).SetZero()
			}
		}
	}
}

// routePrompt returns fields with a string "prompt" moved to the authored
// template when cfg is an inference config and no "initialPrompt" is given.
// The effective template is derived, so a write to it edits what it derives
// from. fields itself is never modified.
func routePrompt(cfg NodeConfig, fields map[string]any) map[string]any {
	if _, ok := cfg.(*InferenceConfig); !ok {
		return fields
	}
	p, ok := fields["prompt"].(string)
	if !ok {
		return fields
	}
	if _, ok := fields["initialPrompt"]; ok {
		return fields
	}
	out := maps.Clone(fields)
	out["initialPrompt"] = StripClauses(p)
	return out
}

func cloneExtra(extra map[string]any) map[string]any {
	m := make(map[string]any, len(extra)+8)
	maps.Copy(m, extra)
	return m
}
