// Package tmpl implements the placeholder-substitution engine: five
// prefixes (var, arg, env, tt, git) plus dep.T.outputs.N and
// self.inputs/outputs.N references, all syntactically "{{ prefix.name }}"
// with tolerant whitespace. Expansion runs as a fixed sequence of single
// passes, one per prefix, in the exact order spec.md §4.2 mandates:
// variables, then dependency-output references, then self references, then
// arguments, then environment, then built-ins, then git. Each pass only
// rewrites its own prefix, so a variable's value may itself contain any
// later-expanded prefix.
//
// This is deliberately regex-based rather than text/template: the ordering
// and error-reporting contract (which placeholder failed, what names were
// available) doesn't map onto a single-pass template execution model.
package tmpl

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/secrets"
)

var (
	varRe  = regexp.MustCompile(`\{\{\s*var\.([\w.-]+)\s*\}\}`)
	depRe  = regexp.MustCompile(`\{\{\s*dep\.([\w.-]+?)\.outputs\.(\w+)\s*\}\}`)
	selfRe = regexp.MustCompile(`\{\{\s*self\.(inputs|outputs)\.(\w+)\s*\}\}`)
	argRe  = regexp.MustCompile(`\{\{\s*arg\.(\w+)\s*\}\}`)
	envRe  = regexp.MustCompile(`\{\{\s*env\.(\w+)\s*\}\}`)
	ttRe   = regexp.MustCompile(`\{\{\s*tt\.(\w+)\s*\}\}`)
	gitRe  = regexp.MustCompile(`\{\{\s*git\.(\w+)\s*\}\}`)

	// anyPlaceholderRe finds a leftover "{{ ... }}" after every pass has run,
	// so an unknown prefix (typo) is reported instead of silently kept.
	anyPlaceholderRe = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)
)

// Engine expands placeholders against an ExecutionContext. One Engine is
// shared by an executor instance so the git-variable cache is memoized
// across every task the executor runs, per spec.md §4.2/§9.
type Engine struct {
	secretsManager secrets.Manager

	gitMu    sync.Mutex
	gitCache map[string]string
}

// NewEngine creates a template engine. secretsManager may be nil; a nil
// manager makes every secret-backed {{ var.* }} lookup fail (no secret delayed-spec
// can be resolved without OS-keychain or fallback access).
func NewEngine(secretsManager secrets.Manager) *Engine {
	return &Engine{
		secretsManager: secretsManager,
		gitCache:       make(map[string]string, 8),
	}
}

// Render expands every placeholder in s against ctx, in the mandated order.
func (e *Engine) Render(s string, ctx *model.ExecutionContext) (string, error) {
	var err error

	// Variables may themselves reference other variables (including
	// secret-backed ones, which only resolve here rather than at parse
	// time); re-run the var pass until it stops changing the text so a
	// chain of var-in-var references fully flattens, with a small bound so
	// a runaway reference can't spin forever.
	for i := 0; i < 8; i++ {
		next, err := e.expandVars(s, ctx)
		if err != nil {
			return "", err
		}
		if next == s {
			break
		}
		s = next
	}
	s, err = e.expandDeps(s, ctx)
	if err != nil {
		return "", err
	}
	s, err = e.expandSelf(s, ctx)
	if err != nil {
		return "", err
	}
	s, err = e.expandArgs(s, ctx)
	if err != nil {
		return "", err
	}
	s, err = e.expandEnv(s, ctx)
	if err != nil {
		return "", err
	}
	s, err = e.expandBuiltins(s, ctx)
	if err != nil {
		return "", err
	}
	s, err = e.expandGit(s, ctx)
	if err != nil {
		return "", err
	}

	if m := anyPlaceholderRe.FindStringSubmatch(s); m != nil {
		return "", &tterrors.TemplateError{
			Task:     ctx.EffectiveName,
			Template: m[0],
			Prefix:   strings.SplitN(m[1], ".", 2)[0],
		}
	}

	return s, nil
}

func (e *Engine) expandVars(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := varRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := ctx.Variables[name]; ok {
			return val
		}
		if ref, ok := ctx.SecretVars[name]; ok {
			val, err := e.secretValue(ref)
			if err != nil {
				firstErr = &tterrors.TemplateError{
					Task:     ctx.EffectiveName,
					Template: match,
					Prefix:   "var: secret " + err.Error(),
				}
				return match
			}
			return val
		}
		firstErr = &tterrors.TemplateError{
			Task:      ctx.EffectiveName,
			Template:  match,
			Prefix:    "var",
			Available: append(sortedKeys(ctx.Variables), sortedKeys(ctx.SecretVars)...),
		}
		return match
	})
	return out, firstErr
}

// secretValue resolves one secret-backed variable. A nil secretsManager
// (no OS keychain and no fallback configured) fails every lookup.
func (e *Engine) secretValue(ref model.SecretRef) (string, error) {
	if e.secretsManager == nil {
		return "", fmt.Errorf("no secrets manager configured")
	}
	return e.secretsManager.Get(ref.Namespace, ref.Key)
}

func (e *Engine) expandDeps(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := depRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := depRe.FindStringSubmatch(match)
		depTask, outputName := groups[1], groups[2]

		outputs, ok := ctx.DepOutputs[depTask]
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:      ctx.EffectiveName,
				Template:  match,
				Prefix:    "dep",
				Available: sortedKeys(ctx.DepOutputs),
			}
			return match
		}
		val, ok := outputs[outputName]
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:      ctx.EffectiveName,
				Template:  match,
				Prefix:    "dep." + depTask + ".outputs",
				Available: sortedKeys(outputs),
			}
			return match
		}
		return val
	})
	return out, firstErr
}

func (e *Engine) expandSelf(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := selfRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := selfRe.FindStringSubmatch(match)
		field, name := groups[1], groups[2]

		src := ctx.SelfInputs
		if field == "outputs" {
			src = ctx.SelfOutputs
		}
		val, ok := src[name]
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:      ctx.EffectiveName,
				Template:  match,
				Prefix:    "self." + field,
				Available: sortedKeys(src),
			}
			return match
		}
		return val
	})
	return out, firstErr
}

func (e *Engine) expandArgs(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := argRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := argRe.FindStringSubmatch(match)[1]

		if ctx.Exported[name] {
			firstErr = &tterrors.TemplateError{
				Task:     ctx.EffectiveName,
				Template: match,
				Prefix:   "arg (exported args are injected as environment, not templated)",
			}
			return match
		}
		val, ok := ctx.ArgBindings[name]
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:      ctx.EffectiveName,
				Template:  match,
				Prefix:    "arg",
				Available: sortedKeys(ctx.ArgBindings),
			}
			return match
		}
		return val
	})
	return out, firstErr
}

func (e *Engine) expandEnv(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := envRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := envRe.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:     ctx.EffectiveName,
				Template: match,
				Prefix:   "env",
			}
			return match
		}
		return val
	})
	return out, firstErr
}

func (e *Engine) expandBuiltins(s string, ctx *model.ExecutionContext) (string, error) {
	builtins := e.builtinValues(ctx)
	var firstErr error
	out := ttRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := ttRe.FindStringSubmatch(match)[1]
		val, ok := builtins[name]
		if !ok {
			firstErr = &tterrors.TemplateError{
				Task:      ctx.EffectiveName,
				Template:  match,
				Prefix:    "tt",
				Available: sortedKeys(builtins),
			}
			return match
		}
		return val
	})
	return out, firstErr
}

// builtinValues computes the closed set of tt.* variables once per Render
// call so they stay consistent throughout a single task's execution, as
// spec.md §9 requires.
func (e *Engine) builtinValues(ctx *model.ExecutionContext) map[string]string {
	homeDir, _ := os.UserHomeDir()
	userName := os.Getenv("USER")
	if userName == "" {
		userName = os.Getenv("USERNAME")
	}
	started := time.Unix(ctx.StartedAt, 0).UTC()

	return map[string]string{
		"project_root":   ctx.ProjectRoot,
		"recipe_dir":     ctx.RecipeDir,
		"task_name":      ctx.EffectiveName,
		"working_dir":    ctx.WorkingDirAbs,
		"timestamp":      started.Format(time.RFC3339),
		"timestamp_unix": strconv.FormatInt(ctx.StartedAt, 10),
		"user_home":      homeDir,
		"user_name":      userName,
	}
}

func (e *Engine) expandGit(s string, ctx *model.ExecutionContext) (string, error) {
	var firstErr error
	out := gitRe.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := gitRe.FindStringSubmatch(match)[1]
		val, err := e.gitValue(name, ctx.WorkingDirAbs)
		if err != nil {
			firstErr = &tterrors.TemplateError{
				Task:     ctx.EffectiveName,
				Template: match,
				Prefix:   "git: " + err.Error(),
			}
			return match
		}
		return val
	})
	return out, firstErr
}

// gitValue resolves a single git.* name, memoized per (name, dir) pair for
// the lifetime of the engine.
func (e *Engine) gitValue(name, dir string) (string, error) {
	cacheKey := name + "\x00" + dir

	e.gitMu.Lock()
	if v, ok := e.gitCache[cacheKey]; ok {
		e.gitMu.Unlock()
		return v, nil
	}
	e.gitMu.Unlock()

	var args []string
	switch name {
	case "branch":
		args = []string{"symbolic-ref", "--short", "HEAD"}
	case "commit":
		args = []string{"rev-parse", "HEAD"}
	case "short_commit":
		args = []string{"rev-parse", "--short", "HEAD"}
	case "tag":
		args = []string{"describe", "--tags", "--exact-match"}
	case "is_dirty":
		out, err := e.runGit(dir, "status", "--porcelain")
		if err != nil {
			return "", fmt.Errorf("git query %q failed: %w", name, err)
		}
		v := strconv.FormatBool(strings.TrimSpace(out) != "")
		e.storeGit(cacheKey, v)
		return v, nil
	default:
		return "", fmt.Errorf("unknown git variable %q", name)
	}

	out, err := e.runGit(dir, args...)
	if err != nil {
		return "", fmt.Errorf("git query %q failed: %w", name, err)
	}
	v := strings.TrimSpace(out)
	if v == "" {
		return "", fmt.Errorf("git query %q returned no value", name)
	}
	e.storeGit(cacheKey, v)
	return v, nil
}

func (e *Engine) storeGit(key, val string) {
	e.gitMu.Lock()
	e.gitCache[key] = val
	e.gitMu.Unlock()
}

func (e *Engine) runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	return string(out), err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
