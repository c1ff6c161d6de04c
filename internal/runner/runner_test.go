package runner

import (
	"bytes"
	"context"
	"runtime"
	"testing"

	"github.com/tasktreeio/tasktree/internal/model"
)

func TestShellRunner_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("script staging targets a POSIX shell in this test")
	}

	var out bytes.Buffer
	sr := &ShellRunner{}
	res, err := sr.Run(context.Background(), nil, Request{
		Script:     "echo hello-from-tasktree",
		WorkingDir: t.TempDir(),
		Output:     &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (output: %s)", res.ExitCode, out.String())
	}
	if got := out.String(); got != "hello-from-tasktree\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestShellRunner_Run_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("script staging targets a POSIX shell in this test")
	}

	sr := &ShellRunner{}
	res, err := sr.Run(context.Background(), nil, Request{
		Script:     "exit 7",
		WorkingDir: t.TempDir(),
		Output:     &bytes.Buffer{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", res.ExitCode)
	}
}

func TestShellRunner_Run_UsesRunnerPreamble(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("script staging targets a POSIX shell in this test")
	}

	var out bytes.Buffer
	sr := &ShellRunner{}
	r := &model.Runner{Name: "custom", Shell: "bash", Preamble: "export GREETING=hi"}
	res, err := sr.Run(context.Background(), r, Request{
		Script:     "echo $GREETING",
		WorkingDir: t.TempDir(),
		Output:     &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if got := out.String(); got != "hi\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestPool_ForSelectsByKind(t *testing.T) {
	p := NewPool("")
	if _, ok := p.For(nil).(*ShellRunner); !ok {
		t.Fatal("expected nil runner to resolve to ShellRunner")
	}
	shellR := &model.Runner{Name: "sh", Shell: "bash"}
	if _, ok := p.For(shellR).(*ShellRunner); !ok {
		t.Fatal("expected shell runner to resolve to ShellRunner")
	}
	containerR := &model.Runner{Name: "ctr", Dockerfile: "Dockerfile"}
	if _, ok := p.For(containerR).(*ContainerRunner); !ok {
		t.Fatal("expected container runner to resolve to ContainerRunner")
	}
}

func TestSanitizeTag(t *testing.T) {
	if got := sanitizeTag("My.Runner_Name"); got != "my.runner_name" {
		t.Fatalf("unexpected sanitized tag: %q", got)
	}
	if got := sanitizeTag("has space"); got != "has-space" {
		t.Fatalf("unexpected sanitized tag: %q", got)
	}
}
