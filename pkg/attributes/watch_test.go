package attributes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/clientrb/pkg/telemetry"
)

type watchResult struct {
	tree *Tree
	err  error
}

func startWatcher(t *testing.T, sources []string) (<-chan watchResult, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	results := make(chan watchResult, 8)
	w := NewWatcher(NewLoader(time.Second), sources, 50*time.Millisecond, telemetry.Nop().Logger)

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(ready)
		done <- w.Run(ctx, func(_ context.Context, tree *Tree, err error) {
			results <- watchResult{tree: tree, err: err}
		})
	}()
	<-ready
	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return results, cancel
}

func waitResult(t *testing.T, results <-chan watchResult) watchResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
		return watchResult{}
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "chef_client:\n  config:\n    log_level: info\n")

	results, _ := startWatcher(t, []string{path})

	writeFile(t, dir, "node.yaml", "chef_client:\n  config:\n    log_level: debug\n")

	r := waitResult(t, results)
	if r.err != nil {
		t.Fatalf("reload error: %v", r.err)
	}
	if s, _, _ := r.tree.String("chef_client.config.log_level"); s != "debug" {
		t.Errorf("log_level = %q, want debug", s)
	}
}

func TestWatcher_ReloadsOnRenameOver(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "chef_client:\n  interval: 1\n")

	results, _ := startWatcher(t, []string{path})

	tmp := writeFile(t, dir, ".node.yaml.swp", "chef_client:\n  interval: 2\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, results)
	if r.err != nil {
		t.Fatalf("reload error: %v", r.err)
	}
	v, _ := r.tree.Lookup("chef_client.interval")
	if n, ok := v.AsInt(); !ok || n != 2 {
		t.Errorf("interval = %#v", v)
	}
}

func TestWatcher_ReportsLoadErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "chef_client: {}\n")

	results, _ := startWatcher(t, []string{path})

	writeFile(t, dir, "node.yaml", "chef_client: [unclosed\n")

	r := waitResult(t, results)
	if r.err == nil {
		t.Fatal("expected load error")
	}
	if r.tree != nil {
		t.Error("tree should be nil on error")
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", "chef_client: {}\n")

	results, _ := startWatcher(t, []string{path})

	writeFile(t, dir, "other.yaml", "x: 1\n")

	select {
	case r := <-results:
		t.Fatalf("unexpected reload: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(NewLoader(time.Second), []string{filepath.Join(t.TempDir(), "gone", "node.yaml")}, 0, nil)
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v", w.debounce)
	}
	if err := w.Run(context.Background(), func(context.Context, *Tree, error) {}); err == nil {
		t.Fatal("expected error watching a missing directory")
	}
}
