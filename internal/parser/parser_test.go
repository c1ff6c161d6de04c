package parser

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_SimpleRecipe(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
tasks:
  build:
    cmd: echo building
    outputs:
      - out.txt
  test:
    cmd: echo testing
    deps:
      - build
`)
	recipe, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := recipe.GetTask("build"); !ok {
		t.Fatal("expected build task")
	}
	testTask, ok := recipe.GetTask("test")
	if !ok {
		t.Fatal("expected test task")
	}
	if len(testTask.Deps) != 1 || testTask.Deps[0].TaskName != "build" {
		t.Fatalf("unexpected deps: %+v", testTask.Deps)
	}
}

func TestLoad_DottedTaskNameRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
tasks:
  ns.build:
    cmd: echo hi
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected dotted task name to be rejected")
	}
}

func TestLoad_ImportNamespacing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "child.yaml", `
tasks:
  setup:
    cmd: echo setup
  build:
    cmd: echo build
    deps:
      - setup
`)
	path := writeFile(t, dir, "tasktree.yaml", `
imports:
  - file: child.yaml
    as: child
tasks:
  all:
    cmd: echo all
    deps:
      - child.build
`)
	recipe, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	build, ok := recipe.GetTask("child.build")
	if !ok {
		t.Fatalf("expected namespaced task child.build, got: %v", recipe.Tasks)
	}
	if len(build.Deps) != 1 || build.Deps[0].TaskName != "child.setup" {
		t.Fatalf("expected rewritten dep child.setup, got %+v", build.Deps)
	}
	all, ok := recipe.GetTask("all")
	if !ok {
		t.Fatal("expected root task 'all'")
	}
	if all.Deps[0].TaskName != "child.build" {
		t.Fatalf("expected root dep referencing child.build, got %q", all.Deps[0].TaskName)
	}
}

func TestLoad_CircularImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
imports:
  - file: b.yaml
    as: b
tasks:
  ta:
    cmd: echo a
`)
	path := writeFile(t, dir, "b.yaml", `
imports:
  - file: a.yaml
    as: a
tasks:
  tb:
    cmd: echo b
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected circular import error")
	}
}

func TestLoad_ImportRunInInherited(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "child.yaml", `
tasks:
  build:
    cmd: echo build
  pinned:
    cmd: echo pinned
    pin_runner: true
`)
	path := writeFile(t, dir, "tasktree.yaml", `
runners:
  container_runner:
    shell: bash
imports:
  - file: child.yaml
    as: child
    run_in: container_runner
tasks:
  noop:
    cmd: echo noop
`)
	recipe, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	build, _ := recipe.GetTask("child.build")
	if build.RunIn != "container_runner" {
		t.Fatalf("expected inherited run_in, got %q", build.RunIn)
	}
	pinned, _ := recipe.GetTask("child.pinned")
	if pinned.RunIn != "" {
		t.Fatalf("expected pinned task to ignore import run_in, got %q", pinned.RunIn)
	}
}

func TestLoad_VariableChainAndEnv(t *testing.T) {
	t.Setenv("TT_TEST_VAR", "from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
variables:
  base: hello
  derived: "{{ var.base }}-world"
  fromenv:
    env: TT_TEST_VAR
tasks:
  t:
    cmd: echo {{ var.derived }} {{ var.fromenv }}
`)
	recipe, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if recipe.Variables["derived"] != "hello-world" {
		t.Fatalf("expected chained variable resolution, got %q", recipe.Variables["derived"])
	}
	if recipe.Variables["fromenv"] != "from-env" {
		t.Fatalf("expected env variable resolution, got %q", recipe.Variables["fromenv"])
	}
}

func TestLoad_VariableSelfReferenceCycle(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
variables:
  loop: "{{ var.loop }}"
tasks:
  t:
    cmd: echo hi
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected circular variable error")
	}
}

func TestLoad_RunnerMustBeExactlyOneVariant(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
runners:
  bad:
    shell: bash
    dockerfile: Dockerfile
tasks:
  t:
    cmd: echo hi
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for runner with both shell and dockerfile")
	}
}

func TestLoad_DepNotFound(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
tasks:
  t:
    cmd: echo hi
    deps:
      - missing
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected TaskNotFoundError for missing dep")
	}
}

func TestLoad_ArgDefaultTypeChecked(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
tasks:
  t:
    cmd: echo hi
    args:
      - "port:int=not-a-number"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected argument default type-check error")
	}
}

func TestLoad_ContainerRunnerBuildArgs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tasktree.yaml", `
runners:
  ctr:
    dockerfile: Dockerfile
    context: .
    args:
      VERSION: "1.0"
tasks:
  t:
    cmd: echo hi
    run_in: ctr
`)
	recipe, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := recipe.GetRunner("ctr")
	if !ok {
		t.Fatal("expected runner ctr")
	}
	if r.BuildArgs["VERSION"] != "1.0" {
		t.Fatalf("expected build arg VERSION=1.0, got %+v", r.BuildArgs)
	}
}
