package dag

import (
	"os"
	"path/filepath"

	"github.com/tasktreeio/tasktree/internal/model"
)

// EffectiveIO computes, for every node in plan (already in topological
// order), its effective input and output glob patterns: declared
// inputs/outputs joined onto the task's own working_dir, plus — per
// spec.md §4.4 — implicit inheritance from each dependency (that
// dependency's effective outputs, or its effective inputs when it declares
// no outputs), plus, for container-runner nodes, the Dockerfile,
// .dockerignore and the two reserved opaque-string markers that make
// runner context/Dockerfile identity changes visible as input changes.
//
// runners[i] is the already-resolved effective runner for plan.Nodes[i] (nil
// is treated as "no container-specific implicit inputs"). Patterns are
// returned rooted at projectRoot, ready for globset.ExpandAll.
func EffectiveIO(recipe *model.Recipe, plan *Plan, runners []*model.Runner, projectRoot string) (inputs, outputs [][]string) {
	n := len(plan.Nodes)
	inputs = make([][]string, n)
	outputs = make([][]string, n)

	for i, node := range plan.Nodes {
		task := recipe.Tasks[node.TaskName]
		if task == nil {
			continue
		}

		declaredIn := joinAll(task.WorkingDir, task.InputGlobs())
		declaredOut := joinAll(task.WorkingDir, task.OutputGlobs())

		eff := append([]string{}, declaredIn...)
		for _, depIdx := range plan.DepIndices[i] {
			if len(outputs[depIdx]) > 0 {
				eff = append(eff, outputs[depIdx]...)
			} else {
				eff = append(eff, inputs[depIdx]...)
			}
		}

		if i < len(runners) && runners[i] != nil && runners[i].Kind() == model.RunnerContainer {
			eff = append(eff, containerImplicitInputs(runners[i], projectRoot)...)
		}

		inputs[i] = dedupe(eff)
		outputs[i] = declaredOut
	}

	return inputs, outputs
}

// joinAll joins workingDir onto every pattern in globs, producing
// project-root-rooted glob patterns. An empty or "." working_dir leaves the
// pattern unchanged.
func joinAll(workingDir string, globs []string) []string {
	if workingDir == "" || workingDir == "." {
		out := make([]string, len(globs))
		copy(out, globs)
		return out
	}
	out := make([]string, len(globs))
	for i, g := range globs {
		out[i] = filepath.ToSlash(filepath.Join(workingDir, g))
	}
	return out
}

// containerImplicitInputs synthesizes the Dockerfile path, the
// .dockerignore file (if present in the build context), and the two
// reserved opaque tokens spec.md §4.4 mandates for container runners.
func containerImplicitInputs(r *model.Runner, projectRoot string) []string {
	var out []string
	if r.Dockerfile != "" {
		out = append(out, filepath.ToSlash(r.Dockerfile))

		dockerignore := filepath.Join(projectRoot, r.Context, ".dockerignore")
		if _, err := os.Stat(dockerignore); err == nil {
			rel, err := filepath.Rel(projectRoot, dockerignore)
			if err == nil {
				out = append(out, filepath.ToSlash(rel))
			}
		}
	}
	out = append(out, "_docker_context_"+r.Context, "_docker_dockerfile_"+r.Dockerfile)
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
