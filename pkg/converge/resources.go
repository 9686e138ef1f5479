package converge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openfroyo/clientrb/pkg/render"
)

// Resource types.
const (
	TypeDirectory = "directory"
	TypeGem       = "chef_gem"
	TypeTemplate  = "template"
	TypeReload    = "reload"
)

// Result is the outcome of applying one resource.
type Result struct {
	// Changed reports whether the target was modified.
	Changed bool `json:"changed"`

	// Action is a short verb describing what happened, e.g. "created" or
	// "already_present".
	Action string `json:"action"`

	// Digest is the content digest for file resources.
	Digest string `json:"digest,omitempty"`
}

// Resource is one idempotent unit of host state.
type Resource interface {
	// ID is unique within a plan, e.g. "directory[/etc/chef]".
	ID() string

	// Type is the resource type.
	Type() string

	// Apply brings the target to the desired state.
	Apply(ctx context.Context, target Target) (Result, error)
}

func resourceID(typ, name string) string {
	return typ + "[" + name + "]"
}

// DefaultDirMode is used for directories created without an explicit mode.
const DefaultDirMode os.FileMode = 0755

// Directory ensures a directory exists. A non-zero Mode is also enforced on
// an existing directory.
type Directory struct {
	Path string
	Mode os.FileMode
}

// ID implements Resource.
func (d *Directory) ID() string { return resourceID(TypeDirectory, d.Path) }

// Type implements Resource.
func (d *Directory) Type() string { return TypeDirectory }

// Apply creates the directory and its parents when missing. An existing
// non-directory at the path is a permanent error.
func (d *Directory) Apply(ctx context.Context, target Target) (Result, error) {
	info, err := target.Stat(ctx, d.Path)
	switch {
	case err == nil && info.IsDir():
		if d.Mode == 0 || info.Mode().Perm() == d.Mode.Perm() {
			return Result{Action: "already_present"}, nil
		}
		if err := target.Chmod(ctx, d.Path, d.Mode.Perm()); err != nil {
			return Result{}, classifyIOError("failed to set directory mode", err).
				WithResource(d.ID()).WithOperation("chmod")
		}
		return Result{Changed: true, Action: "mode_updated"}, nil
	case err == nil:
		return Result{}, NewPermanentError(fmt.Sprintf("%s exists and is not a directory", d.Path), nil).
			WithCode(ErrCodeFilesystem).WithResource(d.ID()).WithOperation("create")
	case !errors.Is(err, fs.ErrNotExist):
		return Result{}, classifyIOError("failed to stat directory", err).
			WithResource(d.ID()).WithOperation("stat")
	}

	mode := d.Mode
	if mode == 0 {
		mode = DefaultDirMode
	}
	if err := target.MkdirAll(ctx, d.Path, mode); err != nil {
		return Result{}, classifyIOError("failed to create directory", err).
			WithResource(d.ID()).WithOperation("create")
	}
	return Result{Changed: true, Action: "created"}, nil
}

// Gem ensures a Ruby gem is installed in the agent's embedded Ruby.
type Gem struct {
	Name    string
	Version string

	// Binary is the gem executable on the target.
	Binary string
}

// DefaultGemBinary is the gem executable shipped with the agent.
const DefaultGemBinary = "/opt/chef/embedded/bin/gem"

// ID implements Resource.
func (g *Gem) ID() string { return resourceID(TypeGem, g.Name) }

// Type implements Resource.
func (g *Gem) Type() string { return TypeGem }

func (g *Gem) binary() string {
	if g.Binary == "" {
		return DefaultGemBinary
	}
	return g.Binary
}

// Apply installs the gem unless it is already present.
func (g *Gem) Apply(ctx context.Context, target Target) (Result, error) {
	installed, err := g.isInstalled(ctx, target)
	if err != nil {
		return Result{}, NewTransientError("failed to query gem", err).
			WithCode(ErrCodeCommand).WithResource(g.ID()).WithOperation("query")
	}
	if installed {
		return Result{Action: "already_present"}, nil
	}

	args := []string{"install", g.Name, "--no-document"}
	if g.Version != "" {
		args = append(args, "--version", g.Version)
	}
	if _, err := target.Run(ctx, g.binary(), args...); err != nil {
		return Result{}, NewTransientError("failed to install gem", err).
			WithCode(ErrCodeCommand).WithResource(g.ID()).WithOperation("install")
	}
	return Result{Changed: true, Action: "installed"}, nil
}

// isInstalled runs "gem list -i"; exit status 1 means not installed. The name
// is a regex to gem, so it is quoted.
func (g *Gem) isInstalled(ctx context.Context, target Target) (bool, error) {
	args := []string{"list", "-i", "^" + regexp.QuoteMeta(g.Name) + "$"}
	if g.Version != "" {
		args = append(args, "--version", g.Version)
	}
	out, err := target.Run(ctx, g.binary(), args...)
	if err != nil {
		if ExitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(out)) == "true", nil
}

// Template writes a rendered document to a file when its content differs.
type Template struct {
	Path     string
	Mode     os.FileMode
	Document *render.Document

	// BackupDir, when set, receives a timestamped copy of the replaced file.
	BackupDir string

	// Now stamps backups; nil means time.Now.
	Now func() time.Time

	decision render.ChangeDecision
}

// ID implements Resource.
func (t *Template) ID() string { return resourceID(TypeTemplate, t.Path) }

// Type implements Resource.
func (t *Template) Type() string { return TypeTemplate }

// Decision returns the change decision of the last Apply.
func (t *Template) Decision() render.ChangeDecision { return t.decision }

// Apply compares the document with the deployed file and replaces it when
// the bytes differ.
func (t *Template) Apply(ctx context.Context, target Target) (Result, error) {
	previous, had, err := readIfExists(ctx, target, t.Path)
	if err != nil {
		return Result{}, classifyIOError("failed to read current file", err).
			WithResource(t.ID()).WithOperation("read")
	}

	t.decision = render.Decide(t.Document, previous, had)
	if !t.decision.Changed {
		return Result{Action: "up_to_date", Digest: t.decision.Digest}, nil
	}

	if had && t.BackupDir != "" {
		if err := t.backup(ctx, target, previous); err != nil {
			return Result{}, classifyIOError("failed to back up file", err).
				WithResource(t.ID()).WithOperation("backup")
		}
	}

	mode := t.Mode
	if mode == 0 {
		mode = 0644
	}
	if err := target.WriteFile(ctx, t.Path, t.Document.Bytes(), mode); err != nil {
		return Result{}, classifyIOError("failed to write file", err).
			WithResource(t.ID()).WithOperation("write")
	}

	action := "updated"
	if !had {
		action = "created"
	}
	return Result{Changed: true, Action: action, Digest: t.decision.Digest}, nil
}

func (t *Template) backup(ctx context.Context, target Target, content []byte) error {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	name := fmt.Sprintf("%s.chef-%s", filepath.Base(t.Path), now().UTC().Format("20060102150405"))
	return target.WriteFile(ctx, filepath.Join(t.BackupDir, name), content, 0600)
}

// Reload invokes a Reloader. It has no immediate action and only runs when
// notified.
type Reload struct {
	Name     string
	Reloader Reloader
}

// ID implements Resource.
func (r *Reload) ID() string { return resourceID(TypeReload, r.Name) }

// Type implements Resource.
func (r *Reload) Type() string { return TypeReload }

// Apply triggers the reload.
func (r *Reload) Apply(ctx context.Context, target Target) (Result, error) {
	if r.Reloader == nil {
		return Result{Action: "skipped"}, nil
	}
	if err := r.Reloader.Reload(ctx, target); err != nil {
		return Result{}, NewTransientError("failed to reload agent", err).
			WithCode(ErrCodeReload).WithResource(r.ID()).WithOperation("reload")
	}
	return Result{Changed: true, Action: "reloaded"}, nil
}

func readIfExists(ctx context.Context, target Target, path string) ([]byte, bool, error) {
	data, err := target.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// classifyIOError marks permission errors permanent and everything else
// transient.
func classifyIOError(message string, err error) *Error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrExist) {
		return NewPermanentError(message, err).WithCode(ErrCodeFilesystem)
	}
	return NewTransientError(message, err).WithCode(ErrCodeFilesystem)
}
