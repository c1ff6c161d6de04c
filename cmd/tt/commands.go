package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasktreeio/tasktree/internal/dag"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/state"
)

// listTasks prints every non-private task, sorted by name, with its
// description — the recipe data already carries everything this needs, so
// there is no core-level helper beyond Recipe.Tasks itself.
func listTasks(recipe *model.Recipe) error {
	names := make([]string, 0, len(recipe.Tasks))
	for name, t := range recipe.Tasks {
		if t.Private {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available tasks:")
	for _, name := range names {
		t := recipe.Tasks[name]
		if t.Desc != "" {
			fmt.Printf("  %-28s %s\n", name, t.Desc)
		} else {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		recipe, err := loadRecipe()
		if err != nil {
			return err
		}
		return listTasks(recipe)
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <task> [name=value...]",
	Short: "Show a task's dependency tree",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipe, err := loadRecipe()
		if err != nil {
			return err
		}
		task, ok := recipe.GetTask(args[0])
		if !ok {
			return fmt.Errorf("task %q not found", args[0])
		}
		bindings, err := parseTaskArgs(task, args[1:])
		if err != nil {
			return err
		}
		root, err := dag.NewBuilder(recipe).BuildDependencyTree(args[0], bindings)
		if err != nil {
			return err
		}
		printTree(root, "", true)
		return nil
	},
}

func printTree(node *dag.DependencyTreeNode, prefix string, isRoot bool) {
	if isRoot {
		fmt.Println(nodeLabel(node))
	}

	for i, child := range node.Deps {
		last := i == len(node.Deps)-1
		connector := "├── "
		nextPrefix := prefix + "│   "
		if last {
			connector = "└── "
			nextPrefix = prefix + "    "
		}
		fmt.Println(prefix + connector + nodeLabel(child))
		if !child.Cycle {
			printTree(child, nextPrefix, false)
		}
	}
}

func nodeLabel(node *dag.DependencyTreeNode) string {
	label := node.Name
	if len(node.Args) > 0 {
		label += "(" + formatArgs(node.Args) + ")"
	}
	if node.Cycle {
		label += " [cycle]"
	}
	return label
}

func formatArgs(args map[string]string) string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+args[k])
	}
	return strings.Join(parts, ", ")
}

var showCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show a task's resolved definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipe, err := loadRecipe()
		if err != nil {
			return err
		}
		task, ok := recipe.GetTask(args[0])
		if !ok {
			return fmt.Errorf("task %q not found", args[0])
		}
		return showTask(recipe, task)
	},
}

// showTask reports a task's declared fields plus its effective runner,
// resolved through the same precedence chain the executor uses (minus the
// CLI override and config files, which a read-only inspection verb has no
// access to without actually planning a run).
func showTask(recipe *model.Recipe, task *model.Task) error {
	fmt.Printf("task: %s\n", task.Name)
	if task.Desc != "" {
		fmt.Printf("desc: %s\n", task.Desc)
	}
	fmt.Printf("working_dir: %s\n", task.WorkingDir)

	runnerName := task.RunIn
	if runnerName == "" {
		runnerName = recipe.DefaultRunner
	}
	if runnerName != "" {
		fmt.Printf("runner: %s\n", runnerName)
	} else {
		fmt.Println("runner: (platform default)")
	}

	if len(task.Deps) > 0 {
		fmt.Println("deps:")
		for _, d := range task.Deps {
			fmt.Printf("  - %s\n", d.TaskName)
		}
	}
	if len(task.Inputs) > 0 {
		fmt.Println("inputs:")
		for _, in := range task.Inputs {
			if in.Name != "" {
				fmt.Printf("  - %s: %s\n", in.Name, in.Glob)
			} else {
				fmt.Printf("  - %s\n", in.Glob)
			}
		}
	}
	if len(task.Outputs) > 0 {
		fmt.Println("outputs:")
		for _, out := range task.Outputs {
			if out.Name != "" {
				fmt.Printf("  - %s: %s\n", out.Name, out.Glob)
			} else {
				fmt.Printf("  - %s\n", out.Glob)
			}
		}
	}
	if len(task.Args) > 0 {
		fmt.Println("args:")
		for _, a := range task.Args {
			line := fmt.Sprintf("  - %s: %s", a.Name, a.Type)
			if a.Default != nil {
				line += fmt.Sprintf(" = %s", *a.Default)
			}
			if a.Exported {
				line += " (exported)"
			}
			fmt.Println(line)
		}
	}
	fmt.Println("cmd:")
	for _, line := range strings.Split(task.Cmd, "\n") {
		fmt.Printf("  %s\n", line)
	}
	return nil
}

var cleanStateCmd = &cobra.Command{
	Use:   "clean-state",
	Short: "Delete the persisted .tasktree-state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		recipe, err := loadRecipe()
		if err != nil {
			return err
		}
		store := state.New(recipe.ProjectRoot)
		if err := os.Remove(store.Path()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	},
}
