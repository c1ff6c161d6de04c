package parser

import (
	"fmt"
	"path/filepath"

	"github.com/tasktreeio/tasktree/internal/model"
)

// Load parses recipePath and every file it transitively imports into a
// fully-resolved Recipe: namespaces rewritten, variables resolved, and
// every structural invariant from spec.md §3 checked. project_root is the
// recipe file's own directory, matching the original implementation's
// `project_root = recipe_path.parent`.
func Load(recipePath string) (*model.Recipe, error) {
	abs, err := filepath.Abs(recipePath)
	if err != nil {
		return nil, fmt.Errorf("resolving recipe path %q: %w", recipePath, err)
	}
	projectRoot := filepath.Dir(abs)

	st := &parseState{projectRoot: projectRoot}
	root, err := parseFile(st, abs, "")
	if err != nil {
		return nil, err
	}

	variables, secretVars, err := resolveVariables(root.variables, projectRoot)
	if err != nil {
		return nil, err
	}

	recipe := &model.Recipe{
		Tasks:         root.tasks,
		Runners:       root.runners,
		Variables:     variables,
		SecretVars:    secretVars,
		DefaultRunner: root.defaultRunner,
		ProjectRoot:   projectRoot,
		RecipePath:    abs,
	}

	if err := checkInvariants(recipe); err != nil {
		return nil, err
	}

	return recipe, nil
}
