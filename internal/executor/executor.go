// Package executor orchestrates one task invocation end to end: it
// resolves the target and its dependencies into a plan (internal/dag),
// checks every node's staleness (internal/staleness), runs whatever needs
// to run through its effective runner (internal/runner), and persists fresh
// TaskState (internal/state) as each task completes. Grounded on the
// original implementation's Executor.execute_task, generalized from a flat
// task-name loop to the parameterized plan this dialect's (task, args)
// node identity requires.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tasktreeio/tasktree/internal/dag"
	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/hashing"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/runner"
	"github.com/tasktreeio/tasktree/internal/staleness"
	"github.com/tasktreeio/tasktree/internal/state"
	"github.com/tasktreeio/tasktree/internal/tmpl"
)

// CallChainEnv is the environment variable a running task's own subprocess
// inherits, carrying every "cache_key:task_name" entry of the invocation
// chain that is currently in flight. A task whose script re-invokes tt
// checks its own target against this chain before doing any work, so a
// task that (directly or through several processes) tries to invoke
// itself again is caught instead of deadlocking or recursing forever.
const CallChainEnv = "TT_CALL_CHAIN"

// OutputMode controls which tasks' subprocess output reaches the user.
type OutputMode string

const (
	OutputAll   OutputMode = "all"
	OutputNone  OutputMode = "none"
	OutputOnErr OutputMode = "on-err"
)

// Options configures one Execute call.
type Options struct {
	Force  bool
	DryRun bool

	// RunnerOverride is the CLI's --runner flag; it outranks every other
	// entry in the effective-runner resolution chain.
	RunnerOverride string

	// ConfigDefaultRunners are the project/user/machine config files'
	// "default" runner definitions, in that precedence order, as returned
	// by config.Resolve. Unlike RunnerOverride/task.RunIn/DefaultRunner
	// (which name a runner already declared in the recipe), a config
	// file carries a full runner definition of its own, so these are
	// tried directly rather than looked up by name.
	ConfigDefaultRunners []*model.Runner

	Output OutputMode
	Writer io.Writer // where "all"/"on-err" output goes; defaults to os.Stdout

	Docker string // container CLI binary; "docker" unless overridden
}

// Executor runs one recipe's tasks with incremental staleness checking.
type Executor struct {
	recipe  *model.Recipe
	store   *state.Store
	engine  *tmpl.Engine
	runners *runner.Pool
}

// New creates an Executor bound to recipe, persisting state through store
// and expanding templates through engine. A fresh runner.Pool is created so
// its container-image memoization lives exactly as long as this Executor.
func New(recipe *model.Recipe, store *state.Store, engine *tmpl.Engine, docker string) *Executor {
	return &Executor{
		recipe:  recipe,
		store:   store,
		engine:  engine,
		runners: runner.NewPool(docker),
	}
}

// Execute resolves targetTask(targetArgs) and its dependencies into a plan,
// checks every node's staleness, and — unless opts.DryRun is set — runs
// whatever needs to run, in topological order, persisting state after each
// task completes. The returned map is keyed by dag.PlanNode.Key() and is
// populated whether or not anything actually ran.
func (ex *Executor) Execute(ctx context.Context, targetTask string, targetArgs map[string]string, opts Options) (map[string]staleness.TaskStatus, error) {
	builder := dag.NewBuilder(ex.recipe)
	plan, err := builder.Build(targetTask, targetArgs)
	if err != nil {
		return nil, err
	}

	chain := parseCallChain(os.Getenv(CallChainEnv))

	effectiveRunners := make([]*model.Runner, len(plan.Nodes))
	for i, node := range plan.Nodes {
		task := ex.recipe.Tasks[node.TaskName]
		effectiveRunners[i] = ex.resolveRunner(task, opts)
	}

	if err := ex.pruneState(opts); err != nil {
		return nil, err
	}

	inputs, outputs := dag.EffectiveIO(ex.recipe, plan, effectiveRunners, ex.recipe.ProjectRoot)

	imageIdentity := func(runnerName string) (string, error) {
		r, ok := ex.recipe.GetRunner(runnerName)
		if !ok {
			return "", nil
		}
		return ex.runners.Container().ImageID(ctx, r, ex.recipe.ProjectRoot, nil)
	}
	checker := &staleness.Checker{ProjectRoot: ex.recipe.ProjectRoot, Store: ex.store, ResolveImage: imageIdentity}

	statuses := make(map[string]staleness.TaskStatus, len(plan.Nodes))
	cacheKeys := make([]string, len(plan.Nodes))

	for i, node := range plan.Nodes {
		task := ex.recipe.Tasks[node.TaskName]
		r := effectiveRunners[i]
		runnerName := ""
		if r != nil {
			runnerName = r.Name
		}

		taskHash := hashing.TaskHash(task, runnerName)
		argsHash := hashing.ArgsHash(node.Args)
		cacheKey := hashing.CacheKey(taskHash, argsHash)
		cacheKeys[i] = cacheKey

		var depStatuses []staleness.TaskStatus
		for _, depIdx := range plan.DepIndices[i] {
			depStatuses = append(depStatuses, statuses[plan.Nodes[depIdx].Key()])
		}

		status, err := checker.Check(task, inputs[i], outputs[i], effectiveRunnerOrShell(r), cacheKey, opts.Force, depStatuses)
		if err != nil {
			return nil, err
		}
		statuses[node.Key()] = status
	}

	if opts.DryRun {
		return statuses, nil
	}

	writer := opts.Writer
	if writer == nil {
		writer = os.Stdout
	}

	for i, node := range plan.Nodes {
		status := statuses[node.Key()]
		if !status.WillRun {
			continue
		}

		if status.Reason == staleness.ReasonOutputsMissing {
			fmt.Fprintf(writer, "warning: re-running task %q because declared outputs are missing\n", node.TaskName)
		}

		entry := cacheKeys[i] + ":" + node.TaskName
		if containsCacheKey(chain, cacheKeys[i]) {
			start := 0
			for j, e := range chain {
				if strings.HasPrefix(e, cacheKeys[i]+":") {
					start = j
					break
				}
			}
			return nil, &tterrors.RecursionError{Task: node.TaskName, Chain: append(append([]string{}, chain[start:]...), entry)}
		}

		if err := ex.runNode(ctx, node, effectiveRunners[i], cacheKeys[i], inputs[i], append(chain, entry), opts, writer); err != nil {
			return nil, err
		}

		if err := ex.store.Save(); err != nil {
			return nil, err
		}
	}

	return statuses, nil
}

// pruneState removes every state entry whose task-hash no longer matches a
// task currently in the recipe (spec.md §4.8 step 3, §3 Lifecycles), then
// persists the result immediately so a task removed from the recipe doesn't
// keep its stale state record around forever. Every recipe task's hash is
// computed against the same effective-runner resolution Execute uses for
// its plan nodes, so a runner change alone doesn't look like task removal.
func (ex *Executor) pruneState(opts Options) error {
	validHashes := make(map[string]struct{}, len(ex.recipe.Tasks))
	for _, task := range ex.recipe.Tasks {
		r := ex.resolveRunner(task, opts)
		runnerName := ""
		if r != nil {
			runnerName = r.Name
		}
		validHashes[hashing.TaskHash(task, runnerName)] = struct{}{}
	}

	ex.store.Prune(validHashes)
	return ex.store.Save()
}

// resolveRunner applies spec.md's effective-runner precedence chain: global
// override, the task's own run_in (already carrying any inherited
// import-level override), the recipe's default_runner, then each
// project/user/machine config default in turn. An empty or unresolvable
// name at any level falls through to the next; exhausting the chain yields
// nil, the platform-default local shell.
func (ex *Executor) resolveRunner(task *model.Task, opts Options) *model.Runner {
	for _, name := range []string{opts.RunnerOverride, task.RunIn, ex.recipe.DefaultRunner} {
		if name == "" {
			continue
		}
		if r, ok := ex.recipe.GetRunner(name); ok {
			return r
		}
	}
	for _, r := range opts.ConfigDefaultRunners {
		if r != nil {
			return r
		}
	}
	return nil
}

func effectiveRunnerOrShell(r *model.Runner) *model.Runner {
	if r != nil {
		return r
	}
	return &model.Runner{Shell: "sh"}
}

func parseCallChain(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func containsCacheKey(chain []string, cacheKey string) bool {
	prefix := cacheKey + ":"
	for _, entry := range chain {
		if strings.HasPrefix(entry, prefix) {
			return true
		}
	}
	return false
}
