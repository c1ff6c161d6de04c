package runner

import (
	"fmt"
	"os"
	"runtime"
)

// TempScript stages a task's rendered command as an executable file on
// disk, the same shape on a shell runner and inside a container: an
// optional shebang, an optional runner preamble, then the command itself.
// Grounded on the original implementation's TempScript context manager.
type TempScript struct {
	Path string
}

// NewTempScript creates and prepares a temp script. shell names the
// interpreter for the shebang line (ignored on Windows, where no shebang is
// written); preamble is the runner's own setup lines, prepended ahead of
// script.
func NewTempScript(script, preamble, shell string) (*TempScript, error) {
	ext := ".sh"
	useShebang := true
	if runtime.GOOS == "windows" {
		ext = ".bat"
		useShebang = false
	}

	f, err := os.CreateTemp("", "tt-script-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("creating temp script: %w", err)
	}
	path := f.Name()

	if useShebang && shell != "" {
		if _, err := fmt.Fprintf(f, "#!/usr/bin/env %s\n", shell); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
	}
	if preamble != "" {
		if _, err := f.WriteString(preamble); err != nil {
			f.Close()
			os.Remove(path)
			return nil, err
		}
		if preamble[len(preamble)-1] != '\n' {
			f.WriteString("\n")
		}
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o700); err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("making temp script executable: %w", err)
		}
	}

	return &TempScript{Path: path}, nil
}

// Remove deletes the temp script file. Both runners defer it and discard its
// error, so a failed unlink never masks the task's own exit status; the
// failure is not logged.
func (t *TempScript) Remove() error {
	if t == nil || t.Path == "" {
		return nil
	}
	return os.Remove(t.Path)
}
