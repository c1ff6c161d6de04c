// Package parser loads a recipe file (and every file it transitively
// imports) into a fully-resolved model.Recipe: namespace rewriting for
// imported tasks/runners/variables, import-cycle detection, variable
// resolution (including the delayed env:/eval:/read:/secret: specs), and
// the structural invariant checks spec.md §3 lists. Grounded on the
// original implementation's parser.py (_parse_file, namespace rewriting,
// import-stack cycle detection) and config.py (delayed variable specs),
// re-expressed with gopkg.in/yaml.v3, the teacher's own serialization
// library.
package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tasktreeio/tasktree/internal/model"
)

// rawDocument is the top-level shape of one recipe file: variables,
// runners, imports, tasks, and an optional default_runner name. Only the
// root file's default_runner is honored, mirroring the original's
// root-only environments.default handling.
type rawDocument struct {
	Variables     map[string]VariableSpec `yaml:"variables"`
	Runners       map[string]rawRunner    `yaml:"runners"`
	Imports       []rawImport             `yaml:"imports"`
	Tasks         map[string]rawTask      `yaml:"tasks"`
	DefaultRunner string                  `yaml:"default_runner"`
}

// rawTask mirrors model.Task's YAML-facing fields; the list-valued fields
// reuse model's own scalar-or-mapping UnmarshalYAML implementations
// directly since those shapes are part of the entity, not the document.
type rawTask struct {
	Cmd        string           `yaml:"cmd"`
	Desc       string           `yaml:"desc"`
	Private    bool             `yaml:"private"`
	Deps       []model.DepSpec  `yaml:"deps"`
	Inputs     []model.IOItem   `yaml:"inputs"`
	Outputs    []model.IOItem   `yaml:"outputs"`
	Args       []model.ArgSpec  `yaml:"args"`
	WorkingDir string           `yaml:"working_dir"`
	RunIn      string           `yaml:"run_in"`
	PinRunner  bool             `yaml:"pin_runner"`
}

// rawImport is one entry of a file's imports list.
type rawImport struct {
	File  string `yaml:"file"`
	As    string `yaml:"as"`
	RunIn string `yaml:"run_in"`
}

// rawRunner mirrors model.Runner's YAML shape. The "args" key is
// polymorphic: a sequence of shell flags for a shell runner, or a mapping
// of Docker build-args for a container runner (spec.md §3: "args (mapping
// of build-args)" on the container variant vs. "args (ordered list of
// shell flags)" on the shell variant). ArgsNode is decoded into one or the
// other once the variant is known.
type rawRunner struct {
	Shell      string            `yaml:"shell"`
	ArgsNode   yaml.Node         `yaml:"args"`
	Preamble   string            `yaml:"preamble"`
	Dockerfile string            `yaml:"dockerfile"`
	Context    string            `yaml:"context"`
	Volumes    []string          `yaml:"volumes"`
	Ports      []string          `yaml:"ports"`
	EnvVars    map[string]string `yaml:"env_vars"`
	ExtraArgs  []string          `yaml:"extra_args"`
	WorkingDir string            `yaml:"working_dir"`
	RunAsRoot  bool              `yaml:"run_as_root"`
}

// toModel converts a decoded rawRunner into a model.Runner, resolving the
// polymorphic "args" key against the variant discriminator (dockerfile
// present => container, else shell).
func (r rawRunner) toModel(name string) (*model.Runner, error) {
	runner := &model.Runner{
		Name:       name,
		Shell:      r.Shell,
		Preamble:   r.Preamble,
		Dockerfile: r.Dockerfile,
		Context:    r.Context,
		Volumes:    r.Volumes,
		Ports:      r.Ports,
		EnvVars:    r.EnvVars,
		ExtraArgs:  r.ExtraArgs,
		WorkingDir: r.WorkingDir,
		RunAsRoot:  r.RunAsRoot,
	}

	if r.ArgsNode.Kind == 0 {
		return runner, nil
	}

	if r.Dockerfile != "" {
		var buildArgs map[string]string
		if err := r.ArgsNode.Decode(&buildArgs); err != nil {
			return nil, fmt.Errorf("runner %q: container args must be a mapping of build-args: %w", name, err)
		}
		runner.BuildArgs = buildArgs
		return runner, nil
	}

	var shellArgs []string
	if err := r.ArgsNode.Decode(&shellArgs); err != nil {
		return nil, fmt.Errorf("runner %q: shell args must be a list: %w", name, err)
	}
	runner.ShellArgs = shellArgs
	return runner, nil
}

// VariableSpec is a parsed variable declaration: either a literal string
// (possibly itself containing {{ var.* }} placeholders) or one of the four
// delayed specifications spec.md §4.2 and SPEC_FULL.md's secret supplement
// define.
type VariableSpec struct {
	Kind string // "", "env", "eval", "read", "secret"

	Literal string // Kind == ""

	EnvName    string // Kind == "env"
	EnvDefault *string

	EvalCmd string // Kind == "eval"

	ReadPath string // Kind == "read"

	SecretNamespace string // Kind == "secret"
	SecretKey       string
}

// UnmarshalYAML accepts a bare scalar (literal value) or a single-key
// mapping naming one delayed spec: env, eval, read, secret.
func (v *VariableSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.Kind = ""
		v.Literal = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("variable declaration must have exactly one key, got %d", len(node.Content)/2)
		}
		key := node.Content[0].Value
		val := node.Content[1]
		switch key {
		case "env":
			v.Kind = "env"
			return v.decodeEnv(val)
		case "eval":
			v.Kind = "eval"
			return val.Decode(&v.EvalCmd)
		case "read":
			v.Kind = "read"
			return val.Decode(&v.ReadPath)
		case "secret":
			v.Kind = "secret"
			var raw struct {
				Namespace string `yaml:"namespace"`
				Key       string `yaml:"key"`
			}
			if err := val.Decode(&raw); err != nil {
				return fmt.Errorf("secret variable: %w", err)
			}
			v.SecretNamespace, v.SecretKey = raw.Namespace, raw.Key
			return nil
		default:
			return fmt.Errorf("variable declaration: unknown delayed spec %q (want env, eval, read or secret)", key)
		}
	default:
		return fmt.Errorf("variable declaration must be a string or a single-key mapping, got %v", node.Kind)
	}
}

func (v *VariableSpec) decodeEnv(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.EnvName = node.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Name    string  `yaml:"name"`
			Default *string `yaml:"default"`
		}
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("env variable: %w", err)
		}
		v.EnvName = raw.Name
		v.EnvDefault = raw.Default
		return nil
	default:
		return fmt.Errorf("env variable spec must be a string or mapping, got %v", node.Kind)
	}
}
