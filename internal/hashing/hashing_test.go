package hashing

import (
	"testing"

	"github.com/tasktreeio/tasktree/internal/model"
)

func TestTaskHash_OrderIndependent(t *testing.T) {
	t1 := &model.Task{
		Cmd:        "go build",
		WorkingDir: ".",
		Outputs:    []model.IOItem{{Glob: "bin/a"}, {Glob: "bin/b"}},
		Args:       []model.ArgSpec{{Name: "x", Type: model.ArgString}, {Name: "y", Type: model.ArgInt}},
		Deps:       []model.DepSpec{{TaskName: "dep.b"}, {TaskName: "dep.a"}},
	}
	t2 := &model.Task{
		Cmd:        "go build",
		WorkingDir: ".",
		Outputs:    []model.IOItem{{Glob: "bin/b"}, {Glob: "bin/a"}},
		Args:       []model.ArgSpec{{Name: "y", Type: model.ArgInt}, {Name: "x", Type: model.ArgString}},
		Deps:       []model.DepSpec{{TaskName: "dep.a"}, {TaskName: "dep.b"}},
	}

	h1 := TaskHash(t1, "local")
	h2 := TaskHash(t2, "local")

	if h1 != h2 {
		t.Errorf("expected order-independent task hashes to match, got %q vs %q", h1, h2)
	}
	if len(h1) != taskHashLen {
		t.Errorf("expected %d-char task hash, got %d", taskHashLen, len(h1))
	}
}

func TestTaskHash_SemanticChangeDiverges(t *testing.T) {
	base := &model.Task{Cmd: "echo hi", WorkingDir: "."}
	changed := &model.Task{Cmd: "echo bye", WorkingDir: "."}

	if TaskHash(base, "local") == TaskHash(changed, "local") {
		t.Error("expected different cmd to produce a different task hash")
	}
	if TaskHash(base, "local") == TaskHash(base, "docker") {
		t.Error("expected different effective runner to produce a different task hash")
	}
}

func TestArgsHash_EmptyAndOrderIndependent(t *testing.T) {
	if got := ArgsHash(nil); got != "" {
		t.Errorf("expected empty args hash for nil bindings, got %q", got)
	}

	a := ArgsHash(map[string]string{"env": "prod", "region": "us"})
	b := ArgsHash(map[string]string{"region": "us", "env": "prod"})
	if a != b {
		t.Errorf("expected map-order-independent args hash, got %q vs %q", a, b)
	}
	if len(a) != argsHashLen {
		t.Errorf("expected %d-char args hash, got %d", argsHashLen, len(a))
	}
}

func TestCacheKey(t *testing.T) {
	cases := []struct {
		task, args, want string
	}{
		{"abcd1234", "", "abcd1234"},
		{"abcd1234", "ef567890", "abcd1234__ef567890"},
	}
	for _, c := range cases {
		if got := CacheKey(c.task, c.args); got != c.want {
			t.Errorf("CacheKey(%q, %q) = %q, want %q", c.task, c.args, got, c.want)
		}
	}
}

func TestRunnerHash_ShellArgsOrderIndependent(t *testing.T) {
	r1 := &model.Runner{Name: "local", Shell: "/bin/bash", ShellArgs: []string{"-e", "-u"}}
	r2 := &model.Runner{Name: "local", Shell: "/bin/bash", ShellArgs: []string{"-u", "-e"}}

	if RunnerHash(r1) != RunnerHash(r2) {
		t.Error("expected shell-arg order to not affect runner hash")
	}
	if len(RunnerHash(r1)) != runnerHashLen {
		t.Errorf("expected %d-char runner hash, got %d", runnerHashLen, len(RunnerHash(r1)))
	}
}

func TestRunnerHash_ContainerFieldsDiverge(t *testing.T) {
	base := &model.Runner{Name: "build", Dockerfile: "Dockerfile", Context: "."}
	changed := &model.Runner{Name: "build", Dockerfile: "Dockerfile.alt", Context: "."}

	if RunnerHash(base) == RunnerHash(changed) {
		t.Error("expected different Dockerfile path to change the runner hash")
	}
}

func TestRunnerHash_KindDiverges(t *testing.T) {
	shell := &model.Runner{Name: "r", Shell: "/bin/sh"}
	container := &model.Runner{Name: "r", Dockerfile: "Dockerfile", Context: "."}

	if RunnerHash(shell) == RunnerHash(container) {
		t.Error("expected shell and container runners to never collide")
	}
}
