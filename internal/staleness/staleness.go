// Package staleness implements the run/skip decision procedure of
// spec.md §4.6: eight reasons in strict priority order, the first matching
// reason wins. Grounded on the original implementation's
// Executor.check_task_status, extended with the runner-change check
// spec.md adds ahead of input-mtime comparison.
package staleness

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tasktreeio/tasktree/internal/globset"
	"github.com/tasktreeio/tasktree/internal/hashing"
	"github.com/tasktreeio/tasktree/internal/model"
)

// dockerContextPrefix and dockerDockerfilePrefix mark the two reserved,
// opaque-string implicit inputs spec.md §4.4 synthesizes for container
// runners. They never name a real filesystem path, so they are compared by
// key presence alone rather than glob-expanded and mtime-compared.
const (
	dockerContextPrefix    = "_docker_context_"
	dockerDockerfilePrefix = "_docker_dockerfile_"
)

func isReservedToken(pattern string) bool {
	return strings.HasPrefix(pattern, dockerContextPrefix) || strings.HasPrefix(pattern, dockerDockerfilePrefix)
}

// Reason is one of the eight prioritized staleness verdicts.
type Reason string

const (
	ReasonForced              Reason = "forced"
	ReasonNoOutputs            Reason = "no_outputs"
	ReasonDependencyTriggered Reason = "dependency_triggered"
	ReasonNeverRun             Reason = "never_run"
	ReasonRunnerChanged        Reason = "runner_changed"
	ReasonInputsChanged        Reason = "inputs_changed"
	ReasonOutputsMissing       Reason = "outputs_missing"
	ReasonFresh                Reason = "fresh"
)

// TaskStatus is the verdict for one node in the resolved plan.
type TaskStatus struct {
	TaskName     string
	WillRun      bool
	Reason       Reason
	ChangedFiles []string
	LastRun      float64
}

// ImageIdentity resolves the content hash of a container runner's currently
// built image, so container runner changes (including unpinned base-image
// updates) are detected without a rebuild every run. It is supplied by the
// runner package; staleness has no knowledge of the container runtime CLI.
type ImageIdentity func(runnerName string) (imageID string, err error)

// Checker evaluates TaskStatus for one node, given its effective inputs,
// effective runner, and the already-computed statuses of its dependencies.
type Checker struct {
	ProjectRoot   string
	Store         StateGetter
	ResolveImage  ImageIdentity // nil for shell runners / when no container check is needed
}

// StateGetter is the subset of state.Store the checker needs; kept as an
// interface so tests can fake it without a real state file.
type StateGetter interface {
	Get(cacheKey string) *model.TaskState
}

// Check implements the eight-reason priority chain.
func (c *Checker) Check(
	task *model.Task,
	effectiveInputs []string, // glob patterns, already including implicit inheritance
	effectiveOutputs []string,
	effectiveRunner *model.Runner,
	cacheKey string,
	force bool,
	depStatuses []TaskStatus,
) (TaskStatus, error) {
	status := TaskStatus{TaskName: task.Name}

	if force {
		status.WillRun = true
		status.Reason = ReasonForced
		return status, nil
	}

	if len(effectiveInputs) == 0 && len(effectiveOutputs) == 0 {
		status.WillRun = true
		status.Reason = ReasonNoOutputs
		return status, nil
	}

	for _, dep := range depStatuses {
		if dep.WillRun {
			status.WillRun = true
			status.Reason = ReasonDependencyTriggered
			return status, nil
		}
	}

	cached := c.Store.Get(cacheKey)
	if cached == nil {
		status.WillRun = true
		status.Reason = ReasonNeverRun
		return status, nil
	}
	status.LastRun = cached.LastRun

	changed, err := c.runnerChanged(effectiveRunner, cached)
	if err != nil {
		return status, err
	}
	if changed {
		status.WillRun = true
		status.Reason = ReasonRunnerChanged
		return status, nil
	}

	changedFiles, err := c.inputsChangedFromPatterns(effectiveInputs, cached)
	if err != nil {
		return status, err
	}
	if len(changedFiles) > 0 {
		status.WillRun = true
		status.Reason = ReasonInputsChanged
		status.ChangedFiles = changedFiles
		return status, nil
	}

	if missing := c.outputsMissing(effectiveOutputs); len(missing) > 0 {
		status.WillRun = true
		status.Reason = ReasonOutputsMissing
		status.ChangedFiles = missing
		return status, nil
	}

	status.WillRun = false
	status.Reason = ReasonFresh
	return status, nil
}

// runnerChanged compares the cached runner hash first (cheap); only for an
// unchanged hash on a container runner does it query image identity.
func (c *Checker) runnerChanged(r *model.Runner, cached *model.TaskState) (bool, error) {
	cachedHash, _ := cached.InputState["_runner_hash_"+r.Name].(string)
	currentHash := hashing.RunnerHash(r)
	if cachedHash != currentHash {
		return true, nil
	}

	if r.Kind() != model.RunnerContainer || c.ResolveImage == nil {
		return false, nil
	}

	cachedImageID, _ := cached.InputState["_docker_image_id_"+r.Name].(string)
	currentImageID, err := c.ResolveImage(r.Name)
	if err != nil {
		return false, err
	}
	return cachedImageID != currentImageID, nil
}

// inputsChangedFromPatterns splits effectiveInputs into real glob patterns
// (mtime-compared after expansion) and reserved opaque tokens (compared by
// key presence only, per spec.md §4.4's container implicit-input markers).
func (c *Checker) inputsChangedFromPatterns(effectiveInputs []string, cached *model.TaskState) ([]string, error) {
	var changed []string
	var globPatterns []string
	for _, p := range effectiveInputs {
		if isReservedToken(p) {
			if _, ok := cached.InputState[p]; !ok {
				changed = append(changed, p)
			}
			continue
		}
		globPatterns = append(globPatterns, p)
	}

	inputFiles, err := globset.ExpandAll(c.ProjectRoot, globPatterns)
	if err != nil {
		return nil, err
	}
	changed = append(changed, c.inputsChanged(inputFiles, cached)...)
	return changed, nil
}

func (c *Checker) inputsChanged(inputFiles []string, cached *model.TaskState) []string {
	var changed []string
	for _, f := range inputFiles {
		rel, err := filepath.Rel(c.ProjectRoot, f)
		if err != nil {
			rel = f
		}
		info, err := os.Stat(f)
		if err != nil {
			changed = append(changed, rel)
			continue
		}
		cachedMtime, ok := cached.InputState[rel].(float64)
		if !ok {
			changed = append(changed, rel)
			continue
		}
		if float64(info.ModTime().Unix()) > cachedMtime {
			changed = append(changed, rel)
		}
	}
	return changed
}

func (c *Checker) outputsMissing(effectiveOutputs []string) []string {
	var missing []string
	for _, pattern := range effectiveOutputs {
		matches, err := globset.ExpandAll(c.ProjectRoot, []string{pattern})
		if err != nil || len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}
	return missing
}

// NowUnix is the single clock read an executor uses to stamp TaskState.
// Defined here so executor and staleness agree on units (seconds).
func NowUnix() float64 {
	return float64(time.Now().Unix())
}

// BuildInputState captures the fresh TaskState.InputState an executor writes
// after a successful run: one mtime per effective-input file, plus a
// presence marker for every reserved opaque token (the container
// implicit-input markers from spec.md §4.4).
func BuildInputState(projectRoot string, effectiveInputs []string) (map[string]any, error) {
	state := make(map[string]any, len(effectiveInputs))
	var globPatterns []string
	for _, p := range effectiveInputs {
		if isReservedToken(p) {
			state[p] = true
			continue
		}
		globPatterns = append(globPatterns, p)
	}

	files, err := globset.ExpandAll(projectRoot, globPatterns)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		rel, err := filepath.Rel(projectRoot, f)
		if err != nil {
			rel = f
		}
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		state[rel] = float64(info.ModTime().Unix())
	}
	return state, nil
}
