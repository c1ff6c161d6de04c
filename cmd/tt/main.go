package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasktreeio/tasktree/internal/config"
	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/executor"
	"github.com/tasktreeio/tasktree/internal/logging"
	"github.com/tasktreeio/tasktree/internal/model"
	"github.com/tasktreeio/tasktree/internal/parser"
	"github.com/tasktreeio/tasktree/internal/secrets"
	"github.com/tasktreeio/tasktree/internal/state"
	"github.com/tasktreeio/tasktree/internal/tmpl"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	recipeFile  string
	forceRun    bool
	dryRun      bool
	outputMode  string
	runnerFlag  string
	dockerFlag  string
	logLevel    string
	noColor     bool
	showVersion bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, tterrors.Format(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tt [task] [name=value...] [flags...]",
	Short: "An incremental task runner with staleness-aware caching",
	Long: `tt runs tasks declared in a tasktree recipe, skipping any task whose
inputs, outputs and runner haven't changed since its last successful run.

Task arguments are passed as name=value pairs or positional values, e.g.:
  tt deploy env=staging replicas=3`,
	RunE:          runTask,
	SilenceErrors: true,
	SilenceUsage:  true,
	Args:          cobra.ArbitraryArgs,
}

func init() {
	rootCmd.Flags().StringVarP(&recipeFile, "file", "f", "", "path to the recipe file (default: discovered by walking up from the working directory)")
	rootCmd.Flags().BoolVar(&forceRun, "force", false, "run the target task even if it is fresh")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without running anything")
	rootCmd.Flags().StringVar(&outputMode, "output", "all", "subprocess output mode: all, none, on-err")
	rootCmd.Flags().StringVar(&runnerFlag, "runner", "", "override the effective runner for every task in the plan")
	rootCmd.Flags().StringVar(&dockerFlag, "docker", "", "container CLI binary to use for container runners (default: docker)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error, silent")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print version information")

	rootCmd.AddCommand(listCmd, treeCmd, showCmd, cleanStateCmd)
}

func newLogger() *logging.Logger {
	level, _ := logging.ParseLevel(logLevel)
	color := logging.ColorEnabled(os.Stderr) && !noColor
	return logging.New(os.Stderr, level, color)
}

func loadRecipe() (*model.Recipe, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	path, err := parser.FindRecipe(recipeFile, cwd)
	if err != nil {
		return nil, err
	}
	return parser.Load(path)
}

func runTask(cmd *cobra.Command, args []string) error {
	if showVersion {
		PrintBanner(version, commit, date)
		return nil
	}

	log := newLogger()

	recipe, err := loadRecipe()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		PrintBanner(version, commit, date)
		return listTasks(recipe)
	}

	targetTask := args[0]
	task, ok := recipe.GetTask(targetTask)
	if !ok {
		return &tterrors.TaskNotFoundError{Name: targetTask, Available: taskNames(recipe)}
	}

	targetArgs, err := parseTaskArgs(task, args[1:])
	if err != nil {
		return err
	}

	mgr, err := secrets.NewManager()
	if err != nil {
		log.Warnf("secret manager unavailable: %v", err)
		mgr = nil
	}
	engine := tmpl.NewEngine(mgr)
	store := state.New(recipe.ProjectRoot)

	configRunners, err := config.Resolve(recipe.ProjectRoot)
	if err != nil {
		log.Warnf("config discovery: %v", err)
	}

	ex := executor.New(recipe, store, engine, dockerFlag)

	mode := executor.OutputMode(outputMode)
	switch mode {
	case executor.OutputAll, executor.OutputNone, executor.OutputOnErr:
	default:
		return fmt.Errorf("invalid --output %q: must be one of all, none, on-err", outputMode)
	}

	opts := executor.Options{
		Force:                forceRun,
		DryRun:               dryRun,
		RunnerOverride:       runnerFlag,
		ConfigDefaultRunners: configRunners,
		Output:               mode,
		Writer:               os.Stdout,
		Docker:               dockerFlag,
	}

	statuses, err := ex.Execute(context.Background(), targetTask, targetArgs, opts)
	if err != nil {
		return err
	}

	if dryRun {
		printDryRun(statuses)
	}

	return nil
}

func taskNames(recipe *model.Recipe) []string {
	names := make([]string, 0, len(recipe.Tasks))
	for name := range recipe.Tasks {
		names = append(names, name)
	}
	return names
}

func splitNameValue(tok string) (string, string, bool) {
	if idx := strings.Index(tok, "="); idx > 0 {
		return tok[:idx], tok[idx+1:], true
	}
	return "", "", false
}
