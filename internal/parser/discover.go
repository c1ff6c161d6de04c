package parser

import (
	"os"
	"path/filepath"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
)

// defaultRecipeNames mirrors the teacher's own defaultLocations fallback
// chain for locating a task file when the user doesn't name one explicitly.
var defaultRecipeNames = []string{
	"tasktree.yml",
	"tasktree.yaml",
	".tasktree.yml",
	".tasktree.yaml",
}

// FindRecipe resolves the recipe file to load: explicit wins outright (and
// must exist); otherwise it walks up from startDir looking for one of
// defaultRecipeNames, stopping at the filesystem root.
func FindRecipe(explicit, startDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", &tterrors.RecipeNotFoundError{SearchedFrom: explicit}
		}
		return explicit, nil
	}

	current, err := filepath.Abs(startDir)
	if err != nil {
		return "", &tterrors.RecipeNotFoundError{SearchedFrom: startDir}
	}

	for {
		for _, name := range defaultRecipeNames {
			candidate := filepath.Join(current, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", &tterrors.RecipeNotFoundError{SearchedFrom: startDir}
		}
		current = parent
	}
}
