package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/parley/internal/ir"
)

// yamlBatch mirrors the CUE batch shape.
type yamlBatch struct {
	Guidelines []yamlGuideline `yaml:"guidelines"`
}

type yamlGuideline struct {
	Name               string         `yaml:"name"`
	Condition          string         `yaml:"condition"`
	Action             string         `yaml:"action"`
	Update             string         `yaml:"update"`
	ReplaceConnections *bool          `yaml:"replace_connections"`
	Entails            []yamlEndpoint `yaml:"entails"`
	EntailedBy         []yamlEndpoint `yaml:"entailed_by"`

	line int
}

// UnmarshalYAML records the entry's line before decoding its fields.
func (g *yamlGuideline) UnmarshalYAML(node *yaml.Node) error {
	type plain yamlGuideline
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*g = yamlGuideline(p)
	g.line = node.Line
	return nil
}

// yamlEndpoint accepts a scalar batch name or a {condition, action} mapping.
type yamlEndpoint struct {
	Endpoint
}

func (e *yamlEndpoint) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		e.Ref = node.Value
		return nil
	case yaml.MappingNode:
		var content ir.GuidelineContent
		if err := node.Decode(&content); err != nil {
			return err
		}
		e.Content = content
		return nil
	default:
		return fmt.Errorf("line %d: entry must be a guideline name or {condition, action}", node.Line)
	}
}

// ParseBatchYAML decodes a YAML batch.
func ParseBatchYAML(data []byte) (*Batch, error) {
	var raw yamlBatch
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}

	b := &Batch{Guidelines: make([]GuidelineSpec, 0, len(raw.Guidelines))}
	for _, g := range raw.Guidelines {
		b.Guidelines = append(b.Guidelines, GuidelineSpec{
			Name:               g.Name,
			Condition:          g.Condition,
			Action:             g.Action,
			Update:             ir.GuidelineID(g.Update),
			ReplaceConnections: g.ReplaceConnections,
			Entails:            endpoints(g.Entails),
			EntailedBy:         endpoints(g.EntailedBy),
			Line:               g.line,
		})
	}
	return b, nil
}

func endpoints(raw []yamlEndpoint) []Endpoint {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Endpoint, len(raw))
	for i, e := range raw {
		out[i] = e.Endpoint
	}
	return out
}
