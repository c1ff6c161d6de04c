// Package model holds the in-memory recipe entities: Task, Runner, Recipe,
// ArgSpec and the derived TaskState record. Parsing (internal/parser)
// produces these; every other package consumes them.
package model

// ArgType is one of the closed set of argument types a task may declare.
type ArgType string

const (
	ArgString   ArgType = "str"
	ArgInt      ArgType = "int"
	ArgFloat    ArgType = "float"
	ArgBool     ArgType = "bool"
	ArgPath     ArgType = "path"
	ArgDateTime ArgType = "datetime"
	ArgIP       ArgType = "ip"
	ArgIPv4     ArgType = "ipv4"
	ArgIPv6     ArgType = "ipv6"
	ArgEmail    ArgType = "email"
	ArgHostname ArgType = "hostname"
)

// ValidArgTypes lists every type the parser accepts, in diagnostic order.
var ValidArgTypes = []ArgType{
	ArgString, ArgInt, ArgFloat, ArgBool, ArgPath,
	ArgDateTime, ArgIP, ArgIPv4, ArgIPv6, ArgEmail, ArgHostname,
}

// IsValidArgType reports whether t is one of the closed set of types.
func IsValidArgType(t ArgType) bool {
	for _, v := range ValidArgTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ArgSpec describes one task argument.
type ArgSpec struct {
	Name     string
	Type     ArgType
	Default  *string
	Exported bool
	Choices  []string
}

// IOItem is one element of an inputs/outputs list: either an anonymous glob
// or a named glob ({name: glob}). Name is empty for anonymous items.
type IOItem struct {
	Name string
	Glob string
}

// DepSpec is one element of a deps list: a bare task name, or a single-key
// mapping whose value is a positional argument list or a named argument map.
type DepSpec struct {
	TaskName   string
	Positional []string
	Named      map[string]string
	HasArgs    bool
}

// Task is a named unit of work.
type Task struct {
	Name       string
	Cmd        string
	Desc       string
	Private    bool
	Deps       []DepSpec
	Inputs     []IOItem
	Outputs    []IOItem
	Args       []ArgSpec
	WorkingDir string
	RunIn      string
	PinRunner  bool
	SourceFile string
}

// NamedInputs returns the subset of Inputs that carry a name.
func (t *Task) NamedInputs() map[string]string {
	return namedGlobs(t.Inputs)
}

// NamedOutputs returns the subset of Outputs that carry a name.
func (t *Task) NamedOutputs() map[string]string {
	return namedGlobs(t.Outputs)
}

func namedGlobs(items []IOItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, item := range items {
		if item.Name != "" {
			out[item.Name] = item.Glob
		}
	}
	return out
}

// InputGlobs returns every glob pattern declared as an input, named or not.
func (t *Task) InputGlobs() []string {
	globs := make([]string, len(t.Inputs))
	for i, item := range t.Inputs {
		globs[i] = item.Glob
	}
	return globs
}

// OutputGlobs returns every glob pattern declared as an output, named or not.
func (t *Task) OutputGlobs() []string {
	globs := make([]string, len(t.Outputs))
	for i, item := range t.Outputs {
		globs[i] = item.Glob
	}
	return globs
}

// ArgSpecByName finds an argument spec by name, or nil.
func (t *Task) ArgSpecByName(name string) *ArgSpec {
	for i := range t.Args {
		if t.Args[i].Name == name {
			return &t.Args[i]
		}
	}
	return nil
}

// RunnerKind discriminates the two Runner variants.
type RunnerKind string

const (
	RunnerShell     RunnerKind = "shell"
	RunnerContainer RunnerKind = "container"
)

// Runner is a named execution environment: either a local shell or a
// containerized build+run pair. Exactly one of the variant field groups is
// populated; Kind reports which.
type Runner struct {
	Name string

	// Shell variant.
	Shell     string
	ShellArgs []string
	Preamble  string

	// Container variant.
	Dockerfile string
	Context    string
	Volumes    []string
	Ports      []string
	EnvVars    map[string]string
	ExtraArgs  []string
	BuildArgs  map[string]string
	WorkingDir string
	RunAsRoot  bool
}

// Kind reports which variant this runner is. Callers must have validated the
// runner first (see parser.validateRunnerKind); Kind panics on a malformed zero
// value rather than guessing.
func (r *Runner) Kind() RunnerKind {
	switch {
	case r.Shell != "" && r.Dockerfile == "":
		return RunnerShell
	case r.Dockerfile != "" && r.Shell == "":
		return RunnerContainer
	default:
		panic("model: Runner " + r.Name + " is neither shell nor container; parser should have rejected it")
	}
}

// SecretRef names a keychain-backed secret a `secret:` variable resolves
// to. Unlike every other delayed variable spec (env/eval/read), secret
// variables are resolved lazily at template-expansion time rather than
// eagerly at parse time, so the parser keeps this reference around instead
// of a string value.
type SecretRef struct {
	Namespace string
	Key       string
}

// Recipe is the parsed, fully import-resolved collection of tasks, runners
// and variables.
type Recipe struct {
	Tasks         map[string]*Task
	Runners       map[string]*Runner
	Variables     map[string]string
	SecretVars    map[string]SecretRef
	DefaultRunner string

	ProjectRoot string
	RecipePath  string
}

// GetTask returns a task by its fully-qualified name.
func (r *Recipe) GetTask(name string) (*Task, bool) {
	t, ok := r.Tasks[name]
	return t, ok
}

// GetRunner returns a runner by name.
func (r *Recipe) GetRunner(name string) (*Runner, bool) {
	rn, ok := r.Runners[name]
	return rn, ok
}

// TaskState is the persisted record of a task's last successful invocation,
// keyed by cache key in the state store.
type TaskState struct {
	LastRun    float64        `json:"last_run"`
	InputState map[string]any `json:"input_state"`
}

// ExecutionContext carries everything the template engine needs to expand
// one task's command, inputs, outputs and working_dir: the task itself, its
// resolved argument bindings, the recipe's fully-resolved variables, the
// named outputs of its dependencies, and its own named inputs/outputs.
type ExecutionContext struct {
	Task          *Task
	EffectiveName string // fully-qualified name, for tt.task_name

	ArgBindings map[string]string // name -> string value, exported args included
	Exported    map[string]bool   // name -> true for args that must not appear in {{ arg.* }}
	Variables   map[string]string

	// DepOutputs[depTaskName][outputName] = resolved absolute path.
	DepOutputs map[string]map[string]string

	SelfInputs  map[string]string
	SelfOutputs map[string]string

	// SecretVars holds the recipe's secret-backed variables, resolved
	// lazily by the template engine's var pass instead of eagerly by the
	// parser (see SecretRef).
	SecretVars map[string]SecretRef

	ProjectRoot   string
	RecipeDir     string
	WorkingDirAbs string
	StartedAt     int64 // unix seconds, captured once at task start
}
