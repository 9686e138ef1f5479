package converge

import (
	"context"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/clientrb/pkg/attributes"
)

// memTarget is an in-memory Target.
type memTarget struct {
	mu       sync.Mutex
	files    map[string][]byte
	modes    map[string]os.FileMode
	dirs     map[string]bool
	commands [][]string
	writes   int
	mkdirs   int

	// run handles commands; nil means every command succeeds with no output.
	run func(argv []string) ([]byte, error)

	// failMkdir makes MkdirAll fail for the given path.
	failMkdir map[string]error
}

func newMemTarget() *memTarget {
	return &memTarget{
		files:     make(map[string][]byte),
		modes:     make(map[string]os.FileMode),
		dirs:      map[string]bool{"/": true},
		failMkdir: make(map[string]error),
	}
}

func (m *memTarget) Name() string { return "mem" }

func (m *memTarget) Stat(_ context.Context, p string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[p] {
		return memInfo{name: path.Base(p), dir: true, mode: m.modes[p]}, nil
	}
	if data, ok := m.files[p]; ok {
		return memInfo{name: path.Base(p), size: int64(len(data)), mode: m.modes[p]}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

func (m *memTarget) ReadFile(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *memTarget) WriteFile(_ context.Context, p string, data []byte, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = append([]byte(nil), data...)
	m.modes[p] = mode
	m.writes++
	return nil
}

func (m *memTarget) MkdirAll(_ context.Context, p string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMkdir[p]; err != nil {
		return &fs.PathError{Op: "mkdir", Path: p, Err: err}
	}
	for dir := p; dir != "/" && dir != "."; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	m.mkdirs++
	return nil
}

func (m *memTarget) Chmod(_ context.Context, p string, mode os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[p] = mode
	return nil
}

func (m *memTarget) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	argv := append([]string{name}, args...)
	m.mu.Lock()
	m.commands = append(m.commands, argv)
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return nil, nil
	}
	return run(argv)
}

func (m *memTarget) commandLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.commands))
	for _, c := range m.commands {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

type memInfo struct {
	name string
	size int64
	mode os.FileMode
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() os.FileMode {
	if i.dir {
		if i.mode == 0 {
			return fs.ModeDir | 0755
		}
		return fs.ModeDir | i.mode
	}
	return i.mode
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() interface{}   { return nil }

// countingReloader counts Reload calls.
type countingReloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingReloader) Reload(context.Context, Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingReloader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordingRecorder keeps every report.
type recordingRecorder struct {
	reports []*Report
}

func (r *recordingRecorder) RecordRun(_ context.Context, report *Report) error {
	r.reports = append(r.reports, report)
	return nil
}

func treeFromYAML(t *testing.T, src string) *attributes.Tree {
	t.Helper()
	m, err := attributes.LoadYAML("test.yaml", []byte(src))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	return attributes.NewTree(m)
}
