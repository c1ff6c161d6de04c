package staleness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tasktreeio/tasktree/internal/hashing"
	"github.com/tasktreeio/tasktree/internal/model"
)

type fakeStore struct {
	m map[string]*model.TaskState
}

func (f *fakeStore) Get(key string) *model.TaskState { return f.m[key] }

func newChecker(root string, cached *model.TaskState) *Checker {
	store := &fakeStore{m: map[string]*model.TaskState{}}
	if cached != nil {
		store.m["cachekey"] = cached
	}
	return &Checker{ProjectRoot: root, Store: store}
}

func TestCheck_Forced(t *testing.T) {
	root := t.TempDir()
	c := newChecker(root, nil)
	task := &model.Task{Name: "t"}
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	status, err := c.Check(task, nil, nil, runner, "cachekey", true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonForced {
		t.Errorf("expected forced/will_run, got %+v", status)
	}
}

func TestCheck_NoOutputsAlwaysRuns(t *testing.T) {
	root := t.TempDir()
	c := newChecker(root, nil)
	task := &model.Task{Name: "t"}
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	status, err := c.Check(task, nil, nil, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonNoOutputs {
		t.Errorf("expected no_outputs/will_run, got %+v", status)
	}
}

func TestCheck_DependencyTriggered(t *testing.T) {
	root := t.TempDir()
	c := newChecker(root, nil)
	task := &model.Task{Name: "t", Outputs: []model.IOItem{{Glob: "out.txt"}}}
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}
	deps := []TaskStatus{{TaskName: "dep1", WillRun: true, Reason: ReasonNeverRun}}

	status, err := c.Check(task, nil, []string{"out.txt"}, runner, "cachekey", false, deps)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonDependencyTriggered {
		t.Errorf("expected dependency_triggered, got %+v", status)
	}
}

func TestCheck_NeverRun(t *testing.T) {
	root := t.TempDir()
	c := newChecker(root, nil)
	task := &model.Task{Name: "t", Outputs: []model.IOItem{{Glob: "out.txt"}}}
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	status, err := c.Check(task, nil, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonNeverRun {
		t.Errorf("expected never_run, got %+v", status)
	}
}

func TestCheck_RunnerChanged(t *testing.T) {
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}
	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": "stale-hash-value",
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Outputs: []model.IOItem{{Glob: "out.txt"}}}

	if err := os.WriteFile(filepath.Join(root, "out.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	status, err := c.Check(task, nil, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonRunnerChanged {
		t.Errorf("expected runner_changed, got %+v", status)
	}
}

func TestCheck_Fresh(t *testing.T) {
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	inputPath := filepath.Join(root, "in.txt")
	outputPath := filepath.Join(root, "out.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputPath, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(inputPath)

	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": hashing.RunnerHash(runner),
			"in.txt":             float64(info.ModTime().Unix()),
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Inputs: []model.IOItem{{Glob: "in.txt"}}, Outputs: []model.IOItem{{Glob: "out.txt"}}}

	status, err := c.Check(task, []string{"in.txt"}, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.WillRun || status.Reason != ReasonFresh {
		t.Errorf("expected fresh, got %+v", status)
	}
}

func TestCheck_InputsChanged(t *testing.T) {
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	inputPath := filepath.Join(root, "in.txt")
	outputPath := filepath.Join(root, "out.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputPath, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": hashing.RunnerHash(runner),
			"in.txt":             float64(0), // far in the past
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Inputs: []model.IOItem{{Glob: "in.txt"}}, Outputs: []model.IOItem{{Glob: "out.txt"}}}

	status, err := c.Check(task, []string{"in.txt"}, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonInputsChanged {
		t.Errorf("expected inputs_changed, got %+v", status)
	}
	if len(status.ChangedFiles) != 1 || status.ChangedFiles[0] != "in.txt" {
		t.Errorf("expected in.txt listed as changed, got %v", status.ChangedFiles)
	}
}

func TestCheck_OutputsMissing(t *testing.T) {
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	inputPath := filepath.Join(root, "in.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(inputPath)

	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": hashing.RunnerHash(runner),
			"in.txt":             float64(info.ModTime().Unix()),
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Inputs: []model.IOItem{{Glob: "in.txt"}}, Outputs: []model.IOItem{{Glob: "missing.txt"}}}

	status, err := c.Check(task, []string{"in.txt"}, []string{"missing.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !status.WillRun || status.Reason != ReasonOutputsMissing {
		t.Errorf("expected outputs_missing, got %+v", status)
	}
}

func TestCheck_PriorityOrderRunnerBeforeInputs(t *testing.T) {
	// Both the runner hash AND the input mtime are stale; runner_changed
	// must win per the fixed priority order.
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	inputPath := filepath.Join(root, "in.txt")
	outputPath := filepath.Join(root, "out.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputPath, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": "wrong-hash",
			"in.txt":             float64(0),
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Inputs: []model.IOItem{{Glob: "in.txt"}}, Outputs: []model.IOItem{{Glob: "out.txt"}}}

	status, err := c.Check(task, []string{"in.txt"}, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.Reason != ReasonRunnerChanged {
		t.Errorf("expected runner_changed to take priority over inputs_changed, got %+v", status)
	}
}

func TestCheck_RollingMtimeBackDoesNotRetrigger(t *testing.T) {
	root := t.TempDir()
	runner := &model.Runner{Name: "local", Shell: "/bin/sh"}

	inputPath := filepath.Join(root, "in.txt")
	outputPath := filepath.Join(root, "out.txt")
	if err := os.WriteFile(inputPath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outputPath, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(inputPath, past, past); err != nil {
		t.Fatal(err)
	}

	cached := &model.TaskState{
		LastRun: 100,
		InputState: map[string]any{
			"_runner_hash_local": hashing.RunnerHash(runner),
			"in.txt":             float64(time.Now().Unix()), // cached mtime newer than the rolled-back file
		},
	}
	c := newChecker(root, cached)
	task := &model.Task{Name: "t", Inputs: []model.IOItem{{Glob: "in.txt"}}, Outputs: []model.IOItem{{Glob: "out.txt"}}}

	status, err := c.Check(task, []string{"in.txt"}, []string{"out.txt"}, runner, "cachekey", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status.WillRun {
		t.Errorf("expected rolled-back mtime to not retrigger, got %+v", status)
	}
}
