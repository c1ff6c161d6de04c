package main

import (
	"fmt"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/parser"
)

// parseTaskArgs resolves tokens (each "name=value", or a bare value bound to
// the declared argument at the same position) against task's declared
// arguments: unknown names and out-of-type-range values are rejected,
// declared defaults backfill anything the caller didn't supply, and choice
// constraints are enforced the same way the recipe loader enforces them on
// a task's own default value.
func parseTaskArgs(task *model.Task, tokens []string) (map[string]string, error) {
	bindings := make(map[string]string, len(task.Args))
	for _, a := range task.Args {
		if a.Default != nil {
			bindings[a.Name] = *a.Default
		}
	}

	for i, tok := range tokens {
		name, value, ok := splitNameValue(tok)
		if !ok {
			if i >= len(task.Args) {
				return nil, fmt.Errorf("invalid argument %q: task %q declares only %d argument(s)", tok, task.Name, len(task.Args))
			}
			name, value = task.Args[i].Name, tok
		}
		spec := task.ArgSpecByName(name)
		if spec == nil {
			return nil, &tterrors.ArgumentError{Task: task.Name, Arg: name, Message: "not a declared argument"}
		}
		if err := parser.CheckArgValue(spec.Type, value); err != nil {
			return nil, &tterrors.ArgumentError{Task: task.Name, Arg: name, Message: err.Error()}
		}
		if len(spec.Choices) > 0 && !choiceAllowed(spec.Choices, value) {
			return nil, &tterrors.ArgumentError{Task: task.Name, Arg: name, Message: fmt.Sprintf("%q is not one of its declared choices", value)}
		}
		bindings[name] = value
	}

	for _, a := range task.Args {
		if _, ok := bindings[a.Name]; !ok {
			return nil, &tterrors.ArgumentError{Task: task.Name, Arg: a.Name, Message: "required argument not provided"}
		}
	}

	return bindings, nil
}

func choiceAllowed(choices []string, value string) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}
