package executor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/tasktreeio/tasktree/internal/parser"
	"github.com/tasktreeio/tasktree/internal/staleness"
	"github.com/tasktreeio/tasktree/internal/state"
	"github.com/tasktreeio/tasktree/internal/tmpl"
)

func writeRecipe(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tasktree.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newExecutor(t *testing.T, recipePath string) *Executor {
	t.Helper()
	recipe, err := parser.Load(recipePath)
	if err != nil {
		t.Fatal(err)
	}
	store := state.New(recipe.ProjectRoot)
	engine := tmpl.NewEngine(nil)
	return New(recipe, store, engine, "")
}

func TestExecute_RunsAndCachesFreshRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell command")
	}
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
tasks:
  build:
    cmd: "echo built > out.txt"
    outputs:
      - out.txt
`)
	ex := newExecutor(t, path)
	var out bytes.Buffer

	statuses, err := ex.Execute(context.Background(), "build", nil, Options{Writer: &out, Output: OutputAll})
	if err != nil {
		t.Fatal(err)
	}
	st := firstStatus(statuses)
	if !st.WillRun || st.Reason != staleness.ReasonNeverRun {
		t.Fatalf("expected never_run on first execution, got %+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("expected out.txt to be created: %v", err)
	}

	// Second run: output exists and nothing changed, should be fresh.
	statuses2, err := ex.Execute(context.Background(), "build", nil, Options{Writer: &out, Output: OutputAll})
	if err != nil {
		t.Fatal(err)
	}
	st2 := firstStatus(statuses2)
	if st2.WillRun || st2.Reason != staleness.ReasonFresh {
		t.Fatalf("expected fresh on second execution, got %+v", st2)
	}
}

func TestExecute_ForceAlwaysRuns(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell command")
	}
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
tasks:
  build:
    cmd: "echo built > out.txt"
    outputs:
      - out.txt
`)
	ex := newExecutor(t, path)
	var out bytes.Buffer

	if _, err := ex.Execute(context.Background(), "build", nil, Options{Writer: &out, Output: OutputAll}); err != nil {
		t.Fatal(err)
	}

	statuses, err := ex.Execute(context.Background(), "build", nil, Options{Force: true, Writer: &out, Output: OutputAll})
	if err != nil {
		t.Fatal(err)
	}
	st := firstStatus(statuses)
	if !st.WillRun || st.Reason != staleness.ReasonForced {
		t.Fatalf("expected forced, got %+v", st)
	}
}

func TestExecute_FailingTaskReturnsExecutionError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell command")
	}
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
tasks:
  bad:
    cmd: "exit 3"
`)
	ex := newExecutor(t, path)
	var out bytes.Buffer

	_, err := ex.Execute(context.Background(), "bad", nil, Options{Writer: &out, Output: OutputAll})
	if err == nil {
		t.Fatal("expected an execution error")
	}
}

func TestExecute_DryRunDoesNotExecute(t *testing.T) {
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
tasks:
  build:
    cmd: "echo built > out.txt"
    outputs:
      - out.txt
`)
	ex := newExecutor(t, path)
	var out bytes.Buffer

	statuses, err := ex.Execute(context.Background(), "build", nil, Options{DryRun: true, Writer: &out})
	if err != nil {
		t.Fatal(err)
	}
	st := firstStatus(statuses)
	if !st.WillRun {
		t.Fatalf("expected dry-run status to still report will_run, got %+v", st)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err == nil {
		t.Fatal("dry-run must not actually create out.txt")
	}
}

func TestExecute_DependencyTriggersDependent(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell command")
	}
	dir := t.TempDir()
	path := writeRecipe(t, dir, `
tasks:
  gen:
    cmd: "echo data > gen.txt"
    outputs:
      - config: gen.txt
  build:
    cmd: "cat {{ dep.gen.outputs.config }} > built.txt"
    deps:
      - gen
    outputs:
      - built.txt
`)
	ex := newExecutor(t, path)
	var out bytes.Buffer

	statuses, err := ex.Execute(context.Background(), "build", nil, Options{Writer: &out, Output: OutputAll})
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 node statuses, got %d", len(statuses))
	}
	for _, st := range statuses {
		if st.TaskName == "build" && st.Reason != staleness.ReasonDependencyTriggered {
			t.Fatalf("expected build to be %s, got %s", staleness.ReasonDependencyTriggered, st.Reason)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "built.txt")); err != nil {
		t.Fatalf("expected built.txt: %v", err)
	}
}

func firstStatus(statuses map[string]staleness.TaskStatus) staleness.TaskStatus {
	for _, s := range statuses {
		return s
	}
	return staleness.TaskStatus{}
}
