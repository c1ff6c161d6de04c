package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/tasktreeio/tasktree/internal/model"
)

// defaultShell picks the platform's native interpreter when a task has no
// runner at all, the same per-OS table the teacher's own shell selector
// used before this package replaced it.
func defaultShell() string {
	switch runtime.GOOS {
	case "darwin":
		return "zsh"
	case "windows":
		return "powershell"
	default:
		return "bash"
	}
}

// ShellRunner executes a task's rendered command as a staged script run
// through a local shell interpreter.
type ShellRunner struct{}

// Run stages req.Script (with r's preamble, if any) into a temp script and
// executes it, streaming combined output to req.Output.
func (s *ShellRunner) Run(ctx context.Context, r *model.Runner, req Request) (Result, error) {
	shell := defaultShell()
	preamble := ""
	if r != nil {
		if r.Shell != "" {
			shell = r.Shell
		}
		preamble = r.Preamble
	}

	ts, err := NewTempScript(req.Script, preamble, shell)
	if err != nil {
		return Result{}, err
	}
	defer ts.Remove()

	var cmd *exec.Cmd
	switch {
	case runtime.GOOS == "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/C", ts.Path)
	case r != nil && len(r.ShellArgs) > 0:
		// An explicit shell-args list means the runner wants the
		// interpreter invoked directly (e.g. "bash -x") rather than
		// relying on the script's own shebang.
		cmd = exec.CommandContext(ctx, shell, append(append([]string{}, r.ShellArgs...), ts.Path)...)
	default:
		cmd = exec.CommandContext(ctx, ts.Path)
	}

	cmd.Dir = req.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), req.Env)
	cmd.Stdin = nil

	code, err := runStreaming(ctx, cmd, req.Output)
	if err != nil {
		return Result{}, fmt.Errorf("shell runner: %w", err)
	}
	return Result{ExitCode: code}, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, len(base), len(base)+len(extra))
	copy(env, base)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
