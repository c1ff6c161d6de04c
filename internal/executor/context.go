package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/tasktreeio/tasktree/internal/dag"
	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/hashing"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/runner"
	"github.com/tasktreeio/tasktree/internal/staleness"
)

// runNode renders and executes one plan node, then persists its fresh
// TaskState into the store (Execute calls store.Save after every node so a
// crash mid-plan never loses more than the in-flight task).
func (ex *Executor) runNode(ctx context.Context, node dag.PlanNode, effectiveRunner *model.Runner, cacheKey string, effectiveInputs []string, callChain []string, opts Options, writer io.Writer) error {
	task := ex.recipe.Tasks[node.TaskName]

	ectx, err := ex.buildContext(task, node.Args, effectiveRunner)
	if err != nil {
		return err
	}

	rendered, err := ex.engine.Render(task.Cmd, ectx)
	if err != nil {
		return err
	}

	env := map[string]string{}
	if effectiveRunner != nil {
		for k, v := range effectiveRunner.EnvVars {
			env[k] = v
		}
	}
	for _, a := range task.Args {
		if !a.Exported {
			continue
		}
		if v, ok := ectx.ArgBindings[a.Name]; ok {
			env[strings.ToUpper(a.Name)] = v
		}
	}
	env[CallChainEnv] = strings.Join(callChain, ",")

	out, flush := outputWriter(opts.Output, writer)

	fmt.Fprintf(writer, "running %s\n", node.TaskName)

	res, err := ex.runners.For(effectiveRunner).Run(ctx, effectiveRunner, runner.Request{
		Script:      rendered,
		WorkingDir:  ectx.WorkingDirAbs,
		ProjectRoot: ex.recipe.ProjectRoot,
		Env:         env,
		Output:      out,
	})
	if err != nil {
		flush(true)
		return err
	}
	if res.ExitCode != 0 {
		flush(true)
		return &tterrors.ExecutionError{Task: node.TaskName, ExitCode: res.ExitCode}
	}
	flush(false)

	inputState, err := staleness.BuildInputState(ex.recipe.ProjectRoot, effectiveInputs)
	if err != nil {
		return err
	}
	hashedRunner := effectiveRunnerOrShell(effectiveRunner)
	inputState["_runner_hash_"+hashedRunner.Name] = hashing.RunnerHash(hashedRunner)
	if effectiveRunner != nil && effectiveRunner.Kind() == model.RunnerContainer {
		if imageID, err := ex.runners.Container().ImageID(ctx, effectiveRunner, ex.recipe.ProjectRoot, nil); err == nil {
			inputState["_docker_image_id_"+effectiveRunner.Name] = imageID
		}
	}

	ex.store.Set(cacheKey, &model.TaskState{
		LastRun:    staleness.NowUnix(),
		InputState: inputState,
	})

	return nil
}

// outputWriter returns the writer a runner should stream to for mode, and a
// flush function the caller invokes once with whether the task failed. In
// "on-err" mode, output is buffered and only written out on failure; "none"
// discards it entirely; "all" streams straight through.
func outputWriter(mode OutputMode, w io.Writer) (io.Writer, func(failed bool)) {
	switch mode {
	case OutputNone:
		return io.Discard, func(bool) {}
	case OutputOnErr:
		buf := &bytes.Buffer{}
		return buf, func(failed bool) {
			if failed {
				io.Copy(w, buf)
			}
		}
	default:
		return w, func(bool) {}
	}
}

// buildContext assembles the ExecutionContext a task's command, inputs and
// outputs are rendered against: its own argument bindings, the recipe's
// variables and secret-backed variables, its dependencies' named outputs
// (resolved to absolute paths), and its own named inputs/outputs.
func (ex *Executor) buildContext(task *model.Task, args map[string]string, effectiveRunner *model.Runner) (*model.ExecutionContext, error) {
	workingDirAbs := filepath.Join(ex.recipe.ProjectRoot, task.WorkingDir)

	exported := make(map[string]bool, len(task.Args))
	for _, a := range task.Args {
		if a.Exported {
			exported[a.Name] = true
		}
	}

	depOutputs := make(map[string]map[string]string, len(task.Deps))
	for _, dep := range task.Deps {
		depTask, ok := ex.recipe.GetTask(dep.TaskName)
		if !ok {
			continue
		}
		depOutputs[dep.TaskName] = resolveNamedOutputPaths(ex.recipe.ProjectRoot, depTask)
	}

	return &model.ExecutionContext{
		Task:          task,
		EffectiveName: task.Name,
		ArgBindings:   args,
		Exported:      exported,
		Variables:     ex.recipe.Variables,
		DepOutputs:    depOutputs,
		SelfInputs:    resolveNamedPaths(ex.recipe.ProjectRoot, task),
		SelfOutputs:   resolveNamedOutputPaths(ex.recipe.ProjectRoot, task),
		SecretVars:    ex.recipe.SecretVars,
		ProjectRoot:   ex.recipe.ProjectRoot,
		RecipeDir:     filepath.Dir(ex.recipe.RecipePath),
		WorkingDirAbs: workingDirAbs,
		StartedAt:     time.Now().Unix(),
	}, nil
}

func resolveNamedPaths(projectRoot string, task *model.Task) map[string]string {
	named := task.NamedInputs()
	out := make(map[string]string, len(named))
	for name, glob := range named {
		out[name] = filepath.Join(projectRoot, task.WorkingDir, glob)
	}
	return out
}

func resolveNamedOutputPaths(projectRoot string, task *model.Task) map[string]string {
	named := task.NamedOutputs()
	out := make(map[string]string, len(named))
	for name, glob := range named {
		out[name] = filepath.Join(projectRoot, task.WorkingDir, glob)
	}
	return out
}
