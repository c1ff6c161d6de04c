package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML implements the scalar-or-mapping shape for inputs/outputs
// list entries: a bare glob string, or a single-key {name: glob} mapping.
func (i *IOItem) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		i.Name = ""
		i.Glob = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("inputs/outputs entry must have exactly one key, got %d", len(node.Content)/2)
		}
		i.Name = node.Content[0].Value
		i.Glob = node.Content[1].Value
		return nil
	default:
		return fmt.Errorf("inputs/outputs entry must be a string or a single-key mapping, got %v", node.Kind)
	}
}

// MarshalYAML renders an anonymous item as a bare scalar and a named item as
// a single-key mapping, mirroring UnmarshalYAML's accepted shapes.
func (i IOItem) MarshalYAML() (interface{}, error) {
	if i.Name == "" {
		return i.Glob, nil
	}
	return map[string]string{i.Name: i.Glob}, nil
}

// UnmarshalYAML implements the scalar-or-mapping shape for deps list
// entries: a bare task name, or a single-key mapping whose value is either a
// positional argument sequence or a named argument mapping.
func (d *DepSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		d.TaskName = node.Value
		d.HasArgs = false
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("deps entry must have exactly one key, got %d", len(node.Content)/2)
		}
		d.TaskName = node.Content[0].Value
		d.HasArgs = true
		valueNode := node.Content[1]
		switch valueNode.Kind {
		case yaml.SequenceNode:
			var positional []string
			if err := valueNode.Decode(&positional); err != nil {
				return fmt.Errorf("deps entry %q: decoding positional args: %w", d.TaskName, err)
			}
			d.Positional = positional
			return nil
		case yaml.MappingNode:
			named := make(map[string]string, len(valueNode.Content)/2)
			for i := 0; i+1 < len(valueNode.Content); i += 2 {
				named[valueNode.Content[i].Value] = valueNode.Content[i+1].Value
			}
			d.Named = named
			return nil
		default:
			return fmt.Errorf("deps entry %q: args must be a list or mapping, got %v", d.TaskName, valueNode.Kind)
		}
	default:
		return fmt.Errorf("deps entry must be a string or a single-key mapping, got %v", node.Kind)
	}
}

// MarshalYAML renders a bare dependency as a scalar and a parameterized one
// as a single-key mapping to positional or named args.
func (d DepSpec) MarshalYAML() (interface{}, error) {
	if !d.HasArgs {
		return d.TaskName, nil
	}
	if d.Named != nil {
		return map[string]map[string]string{d.TaskName: d.Named}, nil
	}
	return map[string][]string{d.TaskName: d.Positional}, nil
}

// UnmarshalYAML implements the compact-string-or-mapping shape for arg
// declarations. The compact form is "name[:type][=default]"; the mapping
// form spells out type, default, exported and choices explicitly.
func (a *ArgSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return a.parseCompact(node.Value)
	case yaml.MappingNode:
		var raw struct {
			Name     string   `yaml:"name"`
			Type     string   `yaml:"type"`
			Default  *string  `yaml:"default"`
			Exported bool     `yaml:"exported"`
			Choices  []string `yaml:"choices"`
		}
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("decoding arg mapping: %w", err)
		}
		a.Name = raw.Name
		a.Type = ArgType(raw.Type)
		if a.Type == "" {
			a.Type = ArgString
		}
		if !IsValidArgType(a.Type) {
			return fmt.Errorf("arg %q: invalid type %q", a.Name, raw.Type)
		}
		a.Default = raw.Default
		a.Exported = raw.Exported
		a.Choices = raw.Choices
		return nil
	default:
		return fmt.Errorf("arg entry must be a string or mapping, got %v", node.Kind)
	}
}

// parseCompact handles "name", "name:type", "name=default" and
// "name:type=default", in that precedence order for the separators.
func (a *ArgSpec) parseCompact(s string) error {
	name := s
	rest := ""
	hasDefault := false
	if idx := strings.IndexByte(s, '='); idx >= 0 {
		name = s[:idx]
		def := s[idx+1:]
		rest = def
		hasDefault = true
		s = s[:idx]
	}
	typ := ArgString
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		name = s[:idx]
		typ = ArgType(s[idx+1:])
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("arg declaration %q: empty name", s)
	}
	if !IsValidArgType(typ) {
		return fmt.Errorf("arg %q: invalid type %q", name, typ)
	}
	a.Name = name
	a.Type = typ
	if hasDefault {
		d := rest
		a.Default = &d
	}
	return nil
}

// MarshalYAML renders an arg of any type with no default, no choices and not
// exported back to its compact form ("name" for str, "name:type" otherwise);
// anything richer falls back to the full mapping form.
func (a ArgSpec) MarshalYAML() (interface{}, error) {
	if a.Default == nil && !a.Exported && len(a.Choices) == 0 {
		if a.Type == ArgString || a.Type == "" {
			return a.Name, nil
		}
		return a.Name + ":" + string(a.Type), nil
	}
	out := map[string]interface{}{
		"name": a.Name,
		"type": string(a.Type),
	}
	if a.Default != nil {
		out["default"] = *a.Default
	}
	if a.Exported {
		out["exported"] = a.Exported
	}
	if len(a.Choices) > 0 {
		out["choices"] = a.Choices
	}
	return out, nil
}
