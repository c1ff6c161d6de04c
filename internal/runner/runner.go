// Package runner executes a task's rendered command inside the environment
// its effective runner names: a local shell, or a container built from a
// Dockerfile. Both variants are driven through the same Runner interface so
// the executor never branches on runner kind itself — it resolves a
// model.Runner to a concrete implementation once, through Pool, and calls
// Run.
//
// Grounded on the original implementation's process_runner.py
// (StreamingProcessRunner, the two-thread stdout/stderr pump) and
// temp_script.py (TempScript, the shebang/preamble staging a runner's
// command goes through before exec), re-expressed with the teacher's own
// os/exec usage in mind.
package runner

import (
	"context"
	"io"

	"github.com/tasktreeio/tasktree/internal/model"
)

// Request is everything a Runner needs to execute one task invocation's
// already-rendered command.
type Request struct {
	Script      string // the task's rendered cmd, template expansion already applied
	WorkingDir  string // absolute working directory
	ProjectRoot string // absolute project root; host-relative volume specs resolve against this
	Env         map[string]string
	Output      io.Writer // combined stdout/stderr destination
}

// Result reports how the invocation concluded.
type Result struct {
	ExitCode int
}

// Runner executes req's command inside the environment r describes (nil r
// means the platform-default local shell with no preamble).
type Runner interface {
	Run(ctx context.Context, r *model.Runner, req Request) (Result, error)
}

// Pool resolves a task's effective runner to the Runner implementation that
// executes it, keeping a single ContainerRunner alive for the lifetime of
// one invocation so its image-build memoization actually amortizes across
// every task that shares a container runner.
type Pool struct {
	shell     *ShellRunner
	container *ContainerRunner
}

// NewPool creates a runner pool. docker is the container CLI binary name
// ("docker" unless overridden, e.g. for podman compatibility).
func NewPool(docker string) *Pool {
	if docker == "" {
		docker = "docker"
	}
	return &Pool{
		shell:     &ShellRunner{},
		container: NewContainerRunner(docker),
	}
}

// For returns the Runner that executes r.
func (p *Pool) For(r *model.Runner) Runner {
	if r == nil || r.Kind() == model.RunnerShell {
		return p.shell
	}
	return p.container
}

// Container exposes the pool's single ContainerRunner so callers that need
// image-identity information (staleness.Checker's ResolveImage, executor's
// post-run state capture) share its per-process build memoization instead
// of re-invoking the container runtime.
func (p *Pool) Container() *ContainerRunner {
	return p.container
}
