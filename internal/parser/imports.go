package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
)

// fileResult is everything one file (and everything it imports)
// contributes to the final Recipe, already namespace-rewritten.
type fileResult struct {
	tasks     map[string]*model.Task
	runners   map[string]*model.Runner
	variables map[string]VariableSpec
	// defaultRunner is only meaningful for the root file.
	defaultRunner string
}

// parseState threads the active-file stack (import-cycle detection) and the
// project root through the recursive descent.
type parseState struct {
	projectRoot string
	stack       []string // absolute file paths on the current import path
}

// parseFile loads path, recursively resolves its imports, and returns every
// task/runner/variable it (transitively) contributes, with names rewritten
// under namespace (the empty string for the root file). Grounded on the
// original _parse_file: DFS with an explicit stack for cycle detection,
// tasks-before-or-without-a-"tasks:"-key tolerance dropped in favor of a
// single explicit `tasks:` top-level key (this dialect always nests tasks),
// namespace rewriting applied only to locally-defined-or-imported
// references.
func parseFile(st *parseState, path, namespace string) (*fileResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}

	for _, seen := range st.stack {
		if seen == abs {
			chain := append(append([]string{}, st.stack...), abs)
			return nil, &tterrors.CircularImportError{Chain: chain}
		}
	}
	st.stack = append(st.stack, abs)
	defer func() { st.stack = st.stack[:len(st.stack)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading recipe file %q: %w", abs, err)
	}

	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &tterrors.ParseError{File: abs, Message: err.Error()}
	}

	fileDir := filepath.Dir(abs)
	defaultWorkingDir := "."
	if rel, err := filepath.Rel(st.projectRoot, fileDir); err == nil {
		defaultWorkingDir = rel
	}

	result := &fileResult{
		tasks:     make(map[string]*model.Task),
		runners:   make(map[string]*model.Runner),
		variables: make(map[string]VariableSpec),
	}

	// Every namespace introduced by an import statement directly inside
	// this file; used to decide whether a bare reference in this file
	// should be namespace-rewritten or treated as reaching outside.
	localImportNamespaces := make(map[string]bool, len(doc.Imports))
	for _, imp := range doc.Imports {
		localImportNamespaces[imp.As] = true
	}

	for _, imp := range doc.Imports {
		if imp.File == "" {
			return nil, &tterrors.ParseError{File: abs, Path: "imports", Message: "import entry missing 'file'"}
		}
		if imp.As == "" {
			return nil, &tterrors.ParseError{File: abs, Path: "imports", Message: "import entry missing 'as' namespace"}
		}

		childNamespace := imp.As
		if namespace != "" {
			childNamespace = namespace + "." + imp.As
		}

		childPath := filepath.Join(fileDir, imp.File)
		if _, err := os.Stat(childPath); err != nil {
			return nil, &tterrors.ParseError{File: abs, Path: "imports." + imp.As, Message: fmt.Sprintf("import file not found: %s", childPath)}
		}

		childResult, err := parseFile(st, childPath, childNamespace)
		if err != nil {
			return nil, err
		}

		effectiveImportRunIn := rewriteRef(imp.RunIn, namespace, localImportNamespaces)
		if effectiveImportRunIn != "" {
			for _, t := range childResult.tasks {
				if !t.PinRunner && t.RunIn == "" {
					t.RunIn = effectiveImportRunIn
				}
			}
		}

		if err := mergeInto(result, childResult, abs); err != nil {
			return nil, err
		}
	}

	for name, spec := range doc.Variables {
		fq := namespaceName(namespace, name)
		result.variables[fq] = spec
	}

	for name, raw := range doc.Runners {
		runner, err := raw.toModel(namespaceName(namespace, name))
		if err != nil {
			return nil, &tterrors.ParseError{File: abs, Path: "runners." + name, Message: err.Error()}
		}
		if err := validateRunnerKind(runner); err != nil {
			return nil, &tterrors.ParseError{File: abs, Path: "runners." + name, Message: err.Error()}
		}
		result.runners[runner.Name] = runner
	}

	for name, raw := range doc.Tasks {
		if strings.Contains(name, ".") {
			return nil, &tterrors.ParseError{
				File:    abs,
				Path:    "tasks." + name,
				Message: "task names may not contain '.'; dots are reserved for import namespacing",
			}
		}
		if raw.Cmd == "" {
			return nil, &tterrors.ParseError{File: abs, Path: "tasks." + name, Message: "task missing required 'cmd' field"}
		}

		task, err := buildTask(name, raw, namespace, localImportNamespaces, defaultWorkingDir, abs)
		if err != nil {
			return nil, err
		}

		if _, dup := result.tasks[task.Name]; dup {
			return nil, &tterrors.ParseError{File: abs, Path: "tasks." + name, Message: fmt.Sprintf("task %q already defined", task.Name)}
		}
		result.tasks[task.Name] = task
	}

	if namespace == "" {
		result.defaultRunner = doc.DefaultRunner
	}

	return result, nil
}

func buildTask(name string, raw rawTask, namespace string, localImportNamespaces map[string]bool, defaultWorkingDir, sourceFile string) (*model.Task, error) {
	fq := namespaceName(namespace, name)

	deps := make([]model.DepSpec, len(raw.Deps))
	for i, d := range raw.Deps {
		d.TaskName = rewriteRef(d.TaskName, namespace, localImportNamespaces)
		deps[i] = d
	}

	workingDir := raw.WorkingDir
	if workingDir == "" {
		workingDir = defaultWorkingDir
	}

	runIn := rewriteRef(raw.RunIn, namespace, localImportNamespaces)

	if err := validateArgSpecs(raw.Args, fq); err != nil {
		return nil, &tterrors.ParseError{File: sourceFile, Path: "tasks." + name + ".args", Message: err.Error()}
	}
	if err := validateUniqueIONames(raw.Inputs, "inputs"); err != nil {
		return nil, &tterrors.ParseError{File: sourceFile, Path: "tasks." + name + ".inputs", Message: err.Error()}
	}
	if err := validateUniqueIONames(raw.Outputs, "outputs"); err != nil {
		return nil, &tterrors.ParseError{File: sourceFile, Path: "tasks." + name + ".outputs", Message: err.Error()}
	}

	return &model.Task{
		Name:       fq,
		Cmd:        raw.Cmd,
		Desc:       raw.Desc,
		Private:    raw.Private,
		Deps:       deps,
		Inputs:     raw.Inputs,
		Outputs:    raw.Outputs,
		Args:       raw.Args,
		WorkingDir: workingDir,
		RunIn:      runIn,
		PinRunner:  raw.PinRunner,
		SourceFile: sourceFile,
	}, nil
}

// rewriteRef applies the import-namespacing rule spec.md §4.3 describes: a
// bare (dot-free) reference is always prefixed with the current namespace;
// a dotted reference is prefixed only if its root segment names one of
// this file's own import namespaces (a reference into a sibling import);
// any other dotted reference is assumed to already be fully-qualified
// (reaching into the importer's namespace or further out) and is kept
// as-is. At the root file (namespace == "") nothing is rewritten.
func rewriteRef(ref, namespace string, localImportNamespaces map[string]bool) string {
	if ref == "" || namespace == "" {
		return ref
	}
	if !strings.Contains(ref, ".") {
		return namespace + "." + ref
	}
	root := strings.SplitN(ref, ".", 2)[0]
	if localImportNamespaces[root] {
		return namespace + "." + ref
	}
	return ref
}

func namespaceName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// mergeInto folds childResult's tasks/runners/variables into result,
// erroring on any fully-qualified name collision.
func mergeInto(result, child *fileResult, file string) error {
	for name, t := range child.tasks {
		if _, dup := result.tasks[name]; dup {
			return &tterrors.ParseError{File: file, Message: fmt.Sprintf("task %q already defined via another import", name)}
		}
		result.tasks[name] = t
	}
	for name, r := range child.runners {
		if _, dup := result.runners[name]; dup {
			return &tterrors.ParseError{File: file, Message: fmt.Sprintf("runner %q already defined via another import", name)}
		}
		result.runners[name] = r
	}
	for name, v := range child.variables {
		if _, dup := result.variables[name]; dup {
			return &tterrors.ParseError{File: file, Message: fmt.Sprintf("variable %q already defined via another import", name)}
		}
		result.variables[name] = v
	}
	return nil
}

func validateRunnerKind(r *model.Runner) error {
	hasShell := r.Shell != ""
	hasDocker := r.Dockerfile != ""
	switch {
	case hasShell && hasDocker:
		return fmt.Errorf("runner %q specifies both 'shell' and 'dockerfile'; a runner must be exactly one variant", r.Name)
	case !hasShell && !hasDocker:
		return fmt.Errorf("runner %q specifies neither 'shell' nor 'dockerfile'", r.Name)
	}
	return nil
}
