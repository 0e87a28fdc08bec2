package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcohefti/blackbox-lab/internal/registry"
)

// DiscoverFunc rebuilds a Registry from the test-definition directory.
// Watch needs a fresh one per cycle because discovery runs once per Registry.
type DiscoverFunc func() (*registry.Registry, error)

const watchSettle = 200 * time.Millisecond

// Watch runs the tests, then re-runs whenever a test-definition file changes,
// until ctx is done. Each cycle honors onlyChanged, so unchanged files stay
// skipped even across watch iterations.
func Watch(ctx context.Context, dir string, statePath string, out io.Writer, onlyChanged bool, discover DiscoverFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		reg, err := discover()
		if err != nil {
			return err
		}
		r := &Runner{Registry: reg, StatePath: statePath, Out: out}
		if _, err := r.Run(onlyChanged); err != nil {
			return err
		}
		fmt.Fprintln(out, "watching for changes...")

		if err := waitForChange(ctx, w); err != nil {
			return err
		}
		// Editors fire bursts of events; let the file settle.
		time.Sleep(watchSettle)
		drainEvents(w)
	}
}

func waitForChange(ctx context.Context, w *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}
			if isDefinitionEvent(ev) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

func isDefinitionEvent(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, ".test.yaml") {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Remove)
}

func drainEvents(w *fsnotify.Watcher) {
	for {
		select {
		case <-w.Events:
		default:
			return
		}
	}
}
