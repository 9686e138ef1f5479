package attributes

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/clientrb/pkg/telemetry"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the reloaded tree, or the error loading it.
type ChangeFunc func(ctx context.Context, tree *Tree, err error)

// Watcher reloads attribute sources when any of them changes on disk.
type Watcher struct {
	loader   *Loader
	sources  []string
	debounce time.Duration
	logger   *telemetry.Logger
}

// NewWatcher creates a watcher for sources. A zero debounce uses
// DefaultDebounce; a nil logger logs through the one carried by Run's context.
func NewWatcher(loader *Loader, sources []string, debounce time.Duration, logger *telemetry.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		sources:  sources,
		debounce: debounce,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, calling onChange after each debounced
// burst of changes. Directories are watched rather than files so that
// editors replacing a file by rename are still seen.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	log := w.logger
	if log == nil {
		log = telemetry.FromContext(ctx)
	}
	log = log.NewComponentLogger("attribute-watcher")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool, len(w.sources))
	dirs := make(map[string]bool)
	for _, src := range w.sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", src, err)
		}
		watched[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	log.Infof("Watching %d attribute sources in %d directories", len(w.sources), len(dirs))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Attribute source changed")

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			tree, err := w.loader.Load(ctx, w.sources...)
			if err != nil {
				log.WithError(err).Error("Failed to reload attribute sources")
			}
			onChange(ctx, tree, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Error("Watcher error")
		}
	}
}
