package attributes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Loader reads attribute sources of any supported format and merges them
// into one tree.
type Loader struct {
	cue      *CUELoader
	starlark *StarlarkLoader
}

// NewLoader creates a loader. starlarkTimeout bounds each Starlark script.
func NewLoader(starlarkTimeout time.Duration) *Loader {
	return &Loader{
		cue:      NewCUELoader(),
		starlark: NewStarlarkLoader(starlarkTimeout),
	}
}

// Load reads each source and merges them in order: later sources override
// scalar values of earlier ones and nested mappings merge key by key.
//
// Supported sources: .yaml, .yml and .json files, .cue files, .star files,
// and directories (loaded as a CUE package).
func (l *Loader) Load(ctx context.Context, sources ...string) (*Tree, error) {
	root := NewMapping()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := l.LoadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		root.Merge(m)
	}
	return NewTree(root), nil
}

// LoadSource reads a single source.
func (l *Loader) LoadSource(ctx context.Context, src string) (*Mapping, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, NewLoadError(src, err)
	}
	if info.IsDir() {
		return l.cue.LoadDir(src)
	}

	switch strings.ToLower(filepath.Ext(src)) {
	case ".yaml", ".yml", ".json":
		return LoadYAMLFile(src)
	case ".cue":
		return l.cue.LoadFile(src)
	case ".star":
		return l.starlark.LoadFile(ctx, src)
	default:
		return nil, NewLoadError(src, fmt.Errorf("unsupported attribute source extension %q", filepath.Ext(src)))
	}
}

// Load is a convenience wrapper around a default Loader.
func Load(ctx context.Context, sources ...string) (*Tree, error) {
	return NewLoader(0).Load(ctx, sources...)
}
