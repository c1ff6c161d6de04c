package parser

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
)

var (
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// validateArgSpecs enforces invariants 3 and 4 of spec.md §3: unique names
// per task, and defaults type-checked against their declared type.
func validateArgSpecs(args []model.ArgSpec, taskName string) error {
	seen := make(map[string]bool, len(args))
	for _, a := range args {
		if seen[a.Name] {
			return fmt.Errorf("task %q: duplicate argument name %q", taskName, a.Name)
		}
		seen[a.Name] = true

		if !model.IsValidArgType(a.Type) {
			return fmt.Errorf("task %q: argument %q: invalid type %q", taskName, a.Name, a.Type)
		}
		if a.Default != nil {
			if err := CheckArgValue(a.Type, *a.Default); err != nil {
				return fmt.Errorf("task %q: argument %q: default %q: %w", taskName, a.Name, *a.Default, err)
			}
		}
		if len(a.Choices) > 0 && a.Default != nil {
			found := false
			for _, c := range a.Choices {
				if c == *a.Default {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("task %q: argument %q: default %q is not one of its declared choices", taskName, a.Name, *a.Default)
			}
		}
	}
	return nil
}

// CheckArgValue type-checks value against t, the way both the parser
// (argument defaults) and the CLI adapter (argument bindings, per spec.md
// §6's "type conversion uses the argument's declared type") need.
func CheckArgValue(t model.ArgType, value string) error {
	switch t {
	case model.ArgString, model.ArgPath, "":
		return nil
	case model.ArgInt:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case model.ArgFloat:
		_, err := strconv.ParseFloat(value, 64)
		return err
	case model.ArgBool:
		return checkBool(value)
	case model.ArgDateTime:
		return checkDateTime(value)
	case model.ArgIP:
		if net.ParseIP(value) == nil {
			return fmt.Errorf("not a valid IP address")
		}
		return nil
	case model.ArgIPv4:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("not a valid IPv4 address")
		}
		return nil
	case model.ArgIPv6:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("not a valid IPv6 address")
		}
		return nil
	case model.ArgEmail:
		if !emailRe.MatchString(value) {
			return fmt.Errorf("not a valid email address")
		}
		return nil
	case model.ArgHostname:
		if len(value) == 0 || len(value) > 253 || !hostnameRe.MatchString(value) {
			return fmt.Errorf("not a valid hostname")
		}
		return nil
	default:
		return fmt.Errorf("unknown argument type %q", t)
	}
}

func checkBool(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no", "on", "off", "1", "0":
		return nil
	default:
		return fmt.Errorf("not a valid boolean")
	}
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func checkDateTime(value string) error {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return nil
		}
	}
	return fmt.Errorf("not a recognized datetime format")
}

// validateUniqueIONames enforces invariant 3 for a single inputs/outputs
// field: named-item names are unique within that field.
func validateUniqueIONames(items []model.IOItem, field string) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		if seen[it.Name] {
			return fmt.Errorf("duplicate named %s %q", field, it.Name)
		}
		seen[it.Name] = true
	}
	return nil
}

// checkInvariants performs the final, whole-recipe validation pass (spec.md
// §3 invariant 1): every dep and run_in must refer to an existing task or
// runner after import resolution has fully assembled the recipe.
// Output-reference validation ({{ dep.T.outputs.N }}) happens later, during
// the template engine's dependency-output substitution pass, since it
// needs the concrete per-node dependency set, not just the static recipe.
func checkInvariants(recipe *model.Recipe) error {
	for name, task := range recipe.Tasks {
		for _, dep := range task.Deps {
			if _, ok := recipe.Tasks[dep.TaskName]; !ok {
				return &tterrors.TaskNotFoundError{Name: dep.TaskName, Available: taskNames(recipe)}
			}
		}
		if task.RunIn != "" {
			if _, ok := recipe.Runners[task.RunIn]; !ok {
				return &tterrors.ParseError{
					File:    task.SourceFile,
					Path:    "tasks." + name + ".run_in",
					Message: fmt.Sprintf("runner %q not found", task.RunIn),
				}
			}
		}
	}
	if recipe.DefaultRunner != "" {
		if _, ok := recipe.Runners[recipe.DefaultRunner]; !ok {
			return &tterrors.ParseError{File: recipe.RecipePath, Path: "default_runner", Message: fmt.Sprintf("runner %q not found", recipe.DefaultRunner)}
		}
	}
	return nil
}

func taskNames(recipe *model.Recipe) []string {
	names := make([]string, 0, len(recipe.Tasks))
	for n := range recipe.Tasks {
		names = append(names, n)
	}
	return names
}
