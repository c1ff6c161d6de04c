// Package hashing produces the stable content fingerprints spec.md §4.1
// requires: task_hash, args_hash, cache_key and runner_hash. Every hash is
// computed over a deterministically sorted, deterministically serialized
// form so that two semantically identical values always collide and two
// semantically different ones diverge with overwhelming probability.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/pool"
)

const (
	taskHashLen   = 8
	argsHashLen   = 8
	runnerHashLen = 16
)

func sum(data []byte, width int) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:width]
}

// TaskHash hashes (cmd, sorted outputs, working_dir, sorted args, effective
// runner name, sorted deps) to an 8-char identifier.
func TaskHash(t *model.Task, effectiveRunner string) string {
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)

	outputs := append([]string(nil), t.OutputGlobs()...)
	sort.Strings(outputs)

	argNames := make([]string, len(t.Args))
	for i, a := range t.Args {
		argNames[i] = string(a.Name) + ":" + string(a.Type)
	}
	sort.Strings(argNames)

	deps := make([]string, len(t.Deps))
	for i, d := range t.Deps {
		deps[i] = d.TaskName
	}
	sort.Strings(deps)

	fmt.Fprintf(sb, `{"cmd":%q,"outputs":%s,"working_dir":%q,"args":%s,"runner":%q,"deps":%s}`,
		t.Cmd, quotedList(outputs), t.WorkingDir, quotedList(argNames), effectiveRunner, quotedList(deps))

	return sum([]byte(sb.String()), taskHashLen)
}

// ArgsHash hashes the canonicalized argument bindings, sorted by name, to an
// 8-char identifier.
func ArgsHash(bindings map[string]string) string {
	if len(bindings) == 0 {
		return ""
	}
	names := make([]string, 0, len(bindings))
	for k := range bindings {
		names = append(names, k)
	}
	sort.Strings(names)

	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)
	sb.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(sb, "%q:%q", name, bindings[name])
	}
	sb.WriteByte('}')

	return sum([]byte(sb.String()), argsHashLen)
}

// CacheKey returns task_hash, or task_hash__args_hash when args are present.
func CacheKey(taskHash, argsHash string) string {
	if argsHash == "" {
		return taskHash
	}
	return taskHash + "__" + argsHash
}

// RunnerHash hashes every field of a runner definition (shell args sorted
// for shell runners) to a 16-char identifier.
func RunnerHash(r *model.Runner) string {
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)

	switch r.Kind() {
	case model.RunnerShell:
		args := append([]string(nil), r.ShellArgs...)
		sort.Strings(args)
		fmt.Fprintf(sb, `{"kind":"shell","shell":%q,"args":%s,"preamble":%q}`,
			r.Shell, quotedList(args), r.Preamble)
	case model.RunnerContainer:
		volumes := append([]string(nil), r.Volumes...)
		sort.Strings(volumes)
		ports := append([]string(nil), r.Ports...)
		sort.Strings(ports)
		extra := append([]string(nil), r.ExtraArgs...)
		sort.Strings(extra)
		fmt.Fprintf(sb, `{"kind":"container","dockerfile":%q,"context":%q,"volumes":%s,"ports":%s,"env":%s,"extra_args":%s,"build_args":%s,"working_dir":%q,"run_as_root":%t}`,
			r.Dockerfile, r.Context, quotedList(volumes), quotedList(ports),
			quotedMap(r.EnvVars), quotedList(extra), quotedMap(r.BuildArgs),
			r.WorkingDir, r.RunAsRoot)
	}

	return sum([]byte(sb.String()), runnerHashLen)
}

func quotedList(items []string) string {
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)
	sb.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(sb, "%q", item)
	}
	sb.WriteByte(']')
	return sb.String()
}

func quotedMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(sb, "%q:%q", k, m[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
