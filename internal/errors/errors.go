// Package errors defines the typed error kinds spec.md §7 requires, each
// carrying the context a user needs to fix the recipe: the offending file,
// a human-readable path into the document, and, where useful, the set of
// names that were actually available.
package errors

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed recipe: bad argument spec, a dotted
// user-task name, an unknown arg type, or any other structural problem
// found while decoding a recipe file.
type ParseError struct {
	File    string
	Path    string // e.g. "tasks.build.args[0]"
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
}

// CircularImportError reports a cycle in the import graph.
type CircularImportError struct {
	Chain []string // file paths on the import stack in traversal order, ending with the re-entered file
}

func (e *CircularImportError) Error() string {
	return fmt.Sprintf("circular import: %s", strings.Join(e.Chain, " -> "))
}

// CircularVariableError reports a cycle in variable references.
type CircularVariableError struct {
	Chain []string // variable names
}

func (e *CircularVariableError) Error() string {
	return fmt.Sprintf("circular variable reference: %s", strings.Join(e.Chain, " -> "))
}

// TaskNotFoundError reports a dependency or CLI target naming an unknown task.
type TaskNotFoundError struct {
	Name      string
	Available []string
}

func (e *TaskNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("task %q not found", e.Name)
	}
	return fmt.Sprintf("task %q not found; available: %s", e.Name, strings.Join(e.Available, ", "))
}

// CycleError reports a cycle in the dependency DAG.
type CycleError struct {
	Chain []string // task names forming the cycle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Chain, " -> "))
}

// TemplateError reports an unresolvable placeholder: an unknown name, an
// exported arg used in a {{ arg.* }} template, a self-reference to an
// anonymous input/output, or a dep-reference to a non-dependency or a
// non-named output.
type TemplateError struct {
	Task      string
	Template  string // the offending "{{ ... }}" text
	Prefix    string // "var", "arg", "env", "tt", "git", "dep", "self"
	Available []string
}

func (e *TemplateError) Error() string {
	msg := fmt.Sprintf("task %q: unresolved template %q", e.Task, e.Template)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available %s: %s)", e.Prefix, strings.Join(e.Available, ", "))
	}
	return msg
}

// ArgumentError reports an unknown CLI argument, a missing required one, or
// a failed type conversion.
type ArgumentError struct {
	Task    string
	Arg     string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("task %q: argument %q: %s", e.Task, e.Arg, e.Message)
}

// RunnerError reports an image build failure, an invalid volume spec, or a
// missing container runtime.
type RunnerError struct {
	Runner  string
	Message string
	Output  string // captured runtime diagnostic output, if any
}

func (e *RunnerError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("runner %q: %s", e.Runner, e.Message)
	}
	return fmt.Sprintf("runner %q: %s\n%s", e.Runner, e.Message, e.Output)
}

// ExecutionError reports a non-zero child exit.
type ExecutionError struct {
	Task     string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q failed with exit code %d", e.Task, e.ExitCode)
}

// RecursionError reports a cache key already present in TT_CALL_CHAIN.
type RecursionError struct {
	Task  string
	Chain []string // "cache_key:task_name" entries, first occurrence through the repeat
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("recursion detected for task %q: %s", e.Task, strings.Join(e.Chain, " -> "))
}

// StateError reports an unreadable or corrupt state file. Per spec.md §7
// this is recovered locally by the caller (proceed with empty state); the
// type exists so the recovery is logged with context rather than silent.
type StateError struct {
	Path    string
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state file %q: %s", e.Path, e.Message)
}

// ConfigError reports a structurally invalid config file.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config file %q: %s", e.Path, e.Message)
}

// RecipeNotFoundError reports no recipe file found along the discovery path.
type RecipeNotFoundError struct {
	SearchedFrom string
}

func (e *RecipeNotFoundError) Error() string {
	return fmt.Sprintf("no recipe file found searching up from %q", e.SearchedFrom)
}

// Format renders err as a red "Error" label followed by err.Error(); every
// error type is rendered the same way.
func Format(err error) string {
	return fmt.Sprintf("\033[31mError\033[0m: %s\n", err.Error())
}
