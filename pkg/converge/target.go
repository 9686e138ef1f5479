package converge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Target is the host a converge is applied to. Paths are absolute paths on
// that host.
type Target interface {
	// Name identifies the target in logs and run history.
	Name() string

	// Stat returns file info; a missing path yields an error matching fs.ErrNotExist.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)

	// ReadFile returns the file content; a missing file yields an error
	// matching fs.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the file content atomically where the target supports it.
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error

	// MkdirAll creates path and any missing parents.
	MkdirAll(ctx context.Context, path string, mode os.FileMode) error

	// Chmod sets the permission bits of path.
	Chmod(ctx context.Context, path string, mode os.FileMode) error

	// Run executes a command and returns its combined output. A non-zero
	// exit is reported as *CommandError.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError reports a command that ran and exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, out)
}

// ExitCode returns the exit status carried by err, or -1.
func ExitCode(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return -1
}

// LocalTarget applies changes to the local filesystem.
type LocalTarget struct {
	// Root prefixes every path; empty means "/". Used to converge into a
	// chroot or a test directory.
	Root string
}

// NewLocalTarget creates a local target rooted at root.
func NewLocalTarget(root string) *LocalTarget {
	return &LocalTarget{Root: root}
}

func (t *LocalTarget) path(p string) string {
	if t.Root == "" {
		return p
	}
	return filepath.Join(t.Root, p)
}

// Name implements Target.
func (t *LocalTarget) Name() string {
	if t.Root == "" {
		return "local"
	}
	return "local:" + t.Root
}

// Stat implements Target.
func (t *LocalTarget) Stat(_ context.Context, path string) (fs.FileInfo, error) {
	return os.Stat(t.path(path))
}

// ReadFile implements Target.
func (t *LocalTarget) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(t.path(path))
}

// WriteFile writes to a temporary file in the same directory and renames it
// over path, so readers never see a partial file.
func (t *LocalTarget) WriteFile(_ context.Context, path string, data []byte, mode os.FileMode) error {
	full := t.path(path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// MkdirAll implements Target. The leaf gets mode regardless of the umask.
func (t *LocalTarget) MkdirAll(_ context.Context, path string, mode os.FileMode) error {
	full := t.path(path)
	if err := os.MkdirAll(full, mode); err != nil {
		return err
	}
	return os.Chmod(full, mode)
}

// Chmod implements Target.
func (t *LocalTarget) Chmod(_ context.Context, path string, mode os.FileMode) error {
	return os.Chmod(t.path(path), mode)
}

// Run implements Target. Commands run on the host, not inside Root.
func (t *LocalTarget) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.Bytes(), &CommandError{
				Command:  strings.Join(append([]string{name}, args...), " "),
				ExitCode: exitErr.ExitCode(),
				Output:   out.String(),
			}
		}
		return out.Bytes(), fmt.Errorf("failed to run %s: %w", name, err)
	}
	return out.Bytes(), nil
}
