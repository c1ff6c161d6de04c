// Package config discovers and parses the default-runner override files tt
// consults below a recipe's own default_runner: a project-level
// .tasktree-config.yml found by walking up from the working directory, a
// per-user file under the user's config directory, and a machine-wide file.
// Grounded on the original implementation's find_project_config and
// parse_config_file, generalized to the three-tier search the teacher's own
// FindConfigFile/getWorkspaceDefaultFile pair inspired for project-level
// discovery, plus gopkg.in/yaml.v3 for parsing exactly as the teacher does.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	tterrors "github.com/tasktreeio/tasktree/internal/errors"
	"github.com/tasktreeio/tasktree/internal/model"
)

const fileName = ".tasktree-config.yml"

// FindProjectConfig walks up from startDir looking for .tasktree-config.yml,
// stopping at the filesystem root. It returns "" if none is found.
func FindProjectConfig(startDir string) string {
	current, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(current, fileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
}

// UserConfigPath returns the per-user config file location, honoring
// os.UserConfigDir's platform conventions ($XDG_CONFIG_HOME on Linux,
// ~/Library/Application Support on macOS, %AppData% on Windows).
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tasktree", "config.yml")
}

// MachineConfigPath returns the machine-wide config file location.
func MachineConfigPath() string {
	if runtime.GOOS == "windows" {
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			return ""
		}
		return filepath.Join(programData, "tasktree", "config.yml")
	}
	return "/etc/tasktree/config.yml"
}

type fileSchema struct {
	Runners map[string]runnerSchema `yaml:"runners"`
}

type runnerSchema struct {
	Shell      string            `yaml:"shell"`
	Args       []string          `yaml:"args"`
	Preamble   string            `yaml:"preamble"`
	WorkingDir string            `yaml:"working_dir"`
	Dockerfile string            `yaml:"dockerfile"`
	Context    string            `yaml:"context"`
	Volumes    []string          `yaml:"volumes"`
	Ports      []string          `yaml:"ports"`
	EnvVars    map[string]string `yaml:"env_vars"`
	ExtraArgs  []string          `yaml:"extra_args"`
	BuildArgs  map[string]string `yaml:"build_args"`
	RunAsRoot  bool              `yaml:"run_as_root"`
}

// ParseFile reads path and returns its "default" runner, or nil if path
// doesn't exist, is empty, or carries no "runners" section at all. A
// "runners" section with anything other than exactly one entry named
// "default" is a ConfigError: per spec.md, these files configure one
// fallback runner, not a recipe's full runner set.
func ParseFile(path string) (*model.Runner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &tterrors.ConfigError{Path: path, Message: err.Error()}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc fileSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &tterrors.ConfigError{Path: path, Message: "invalid YAML: " + err.Error()}
	}

	if doc.Runners == nil {
		return nil, nil
	}

	if len(doc.Runners) != 1 {
		return nil, &tterrors.ConfigError{Path: path, Message: "'runners' section must contain exactly one runner named 'default'"}
	}

	rs, ok := doc.Runners["default"]
	if !ok {
		return nil, &tterrors.ConfigError{Path: path, Message: "'runners' section must contain a runner named 'default'"}
	}

	if rs.Shell == "" && rs.Dockerfile == "" {
		return nil, &tterrors.ConfigError{Path: path, Message: "runner 'default' must specify either 'shell' or 'dockerfile'"}
	}

	return &model.Runner{
		Name:       "default",
		Shell:      rs.Shell,
		ShellArgs:  rs.Args,
		Preamble:   rs.Preamble,
		WorkingDir: rs.WorkingDir,
		Dockerfile: rs.Dockerfile,
		Context:    rs.Context,
		Volumes:    rs.Volumes,
		Ports:      rs.Ports,
		EnvVars:    rs.EnvVars,
		ExtraArgs:  rs.ExtraArgs,
		BuildArgs:  rs.BuildArgs,
		RunAsRoot:  rs.RunAsRoot,
	}, nil
}

// Resolve discovers the project, user, and machine config runners in
// precedence order (project first), skipping any tier that has no file or
// no default runner defined. The result is suitable to assign directly to
// executor.Options.ConfigDefaultRunners.
func Resolve(projectStartDir string) ([]*model.Runner, error) {
	var out []*model.Runner

	paths := []string{FindProjectConfig(projectStartDir), UserConfigPath(), MachineConfigPath()}
	for _, p := range paths {
		if p == "" {
			continue
		}
		r, err := ParseFile(p)
		if err != nil {
			return out, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
