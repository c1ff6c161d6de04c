package parser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
)

// varRefRe finds {{ var.NAME }} placeholders inside a literal variable's
// value, the same syntax and tolerant whitespace as the template engine's
// own var pass (internal/tmpl), but evaluated once at parse time here
// rather than per task invocation.
var varRefRe = regexp.MustCompile(`\{\{\s*var\.([\w.-]+)\s*\}\}`)

// resolveVariables turns the raw, possibly-delayed variable specs gathered
// from the recipe and its imports into the recipe's final string map, plus
// the set of secret-backed variables the template engine resolves lazily.
// Literal variables may reference other literal variables; those
// references are resolved in topological order (spec.md §3 invariant 7: the
// reference graph is a DAG, self-reference is a parse-time error).
// env:/eval:/read: delayed specs are evaluated here, eagerly, in the same
// pass (grounded on the original config.py's eager delayed-spec
// evaluation); secret: variables are never resolved at parse time — their
// SecretRef is carried through to ExecutionContext and resolved by
// internal/tmpl at template-expansion time.
func resolveVariables(specs map[string]VariableSpec, projectRoot string) (map[string]string, map[string]model.SecretRef, error) {
	resolved := make(map[string]string, len(specs))
	secretVars := make(map[string]model.SecretRef)

	order, err := topoSortVariables(specs)
	if err != nil {
		return nil, nil, err
	}

	for _, name := range order {
		spec := specs[name]
		switch spec.Kind {
		case "":
			val, err := substituteVarRefs(spec.Literal, resolved, name)
			if err != nil {
				return nil, nil, err
			}
			resolved[name] = val
		case "env":
			val, ok := os.LookupEnv(spec.EnvName)
			if !ok {
				if spec.EnvDefault != nil {
					val = *spec.EnvDefault
				} else {
					return nil, nil, &tterrors.ParseError{Path: "variables." + name, Message: fmt.Sprintf("env variable %q is not set and has no default", spec.EnvName)}
				}
			}
			resolved[name] = val
		case "eval":
			val, err := evalVariable(spec.EvalCmd, projectRoot)
			if err != nil {
				return nil, nil, &tterrors.ParseError{Path: "variables." + name, Message: err.Error()}
			}
			resolved[name] = val
		case "read":
			val, err := readVariable(spec.ReadPath, projectRoot)
			if err != nil {
				return nil, nil, &tterrors.ParseError{Path: "variables." + name, Message: err.Error()}
			}
			resolved[name] = val
		case "secret":
			secretVars[name] = model.SecretRef{Namespace: spec.SecretNamespace, Key: spec.SecretKey}
		default:
			return nil, nil, &tterrors.ParseError{Path: "variables." + name, Message: fmt.Sprintf("unknown variable kind %q", spec.Kind)}
		}
	}

	return resolved, secretVars, nil
}

// topoSortVariables orders literal variables so that every {{ var.X }}
// reference they contain is resolved before they are. Delayed specs
// (env/eval/read/secret) have no intra-variable dependencies and sort
// before any literal that could reference them — but since delayed values
// aren't known until evaluated, literal variables referencing a delayed
// variable are resolved after it by construction (delayed kinds never
// appear in the "referenced by" edge set, only as referenced-from targets).
func topoSortVariables(specs map[string]VariableSpec) ([]string, error) {
	names := make([]string, 0, len(specs))
	for n := range specs {
		names = append(names, n)
	}
	sort.Strings(names)

	refs := make(map[string][]string, len(specs))
	for _, n := range names {
		spec := specs[n]
		if spec.Kind != "" {
			refs[n] = nil
			continue
		}
		var deps []string
		for _, m := range varRefRe.FindAllStringSubmatch(spec.Literal, -1) {
			dep := m[1]
			if dep == n {
				return nil, &tterrors.CircularVariableError{Chain: []string{n, n}}
			}
			if _, ok := specs[dep]; !ok {
				return nil, &tterrors.ParseError{Path: "variables." + n, Message: fmt.Sprintf("references undefined variable %q", dep)}
			}
			deps = append(deps, dep)
		}
		refs[n] = deps
	}

	var order []string
	state := make(map[string]int, len(names)) // 0 unvisited, 1 visiting, 2 done
	var chain []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case 2:
			return nil
		case 1:
			cycleChain := append(append([]string{}, chain...), n)
			return &tterrors.CircularVariableError{Chain: cycleChain}
		}
		state[n] = 1
		chain = append(chain, n)
		for _, dep := range refs[n] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		chain = chain[:len(chain)-1]
		state[n] = 2
		order = append(order, n)
		return nil
	}

	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}

	return order, nil
}

func substituteVarRefs(literal string, resolved map[string]string, self string) (string, error) {
	var firstErr error
	out := varRefRe.ReplaceAllStringFunc(literal, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := varRefRe.FindStringSubmatch(match)[1]
		val, ok := resolved[name]
		if !ok {
			// Referenced variable is a still-unresolved secret: leave the
			// placeholder in place for internal/tmpl to expand lazily at
			// template-expansion time.
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	_ = self
	return out, nil
}

func evalVariable(cmd, projectRoot string) (string, error) {
	c := exec.Command("sh", "-c", cmd)
	c.Dir = projectRoot
	out, err := c.Output()
	if err != nil {
		return "", fmt.Errorf("eval %q failed: %w", cmd, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func readVariable(path, projectRoot string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(projectRoot, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %q failed: %w", path, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
