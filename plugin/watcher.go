package plugin

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wasmforge/kernel/logging"
)

// ReloadFunc is invoked once per coalesced batch of filesystem events.
type ReloadFunc func(ctx context.Context)

// Watcher re-triggers discovery + load when the plugin directory changes.
// It is the optional hot-reload collaborator described in SPEC_FULL.md
// §4.5.7: debouncing and coalescing are the watcher's own responsibility,
// not the lifecycle manager's.
type Watcher struct {
	root     string
	debounce time.Duration
	onReload ReloadFunc
	logger   logging.Logger
}

// NewWatcher constructs a Watcher over root with the default 250ms debounce
// window. root and its immediate subdirectories are watched, matching the
// manifest search radius used by Discover.
func NewWatcher(root string, onReload ReloadFunc, logger logging.Logger) *Watcher {
	return &Watcher{
		root:     root,
		debounce: 250 * time.Millisecond,
		onReload: onReload,
		logger:   logger,
	}
}

// Start begins watching in the background. It returns once the watch set
// has been established; events are processed on a separate goroutine until
// ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range watchDirs(w.root) {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return err
		}
		w.logger.Debug("watcher: watching %s", dir)
	}

	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	const mask = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

	var timer *time.Timer
	var fired <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case evt, ok := <-fsw.Events:
			if !ok {
				return
			}
			if evt.Op&mask == 0 {
				continue
			}
			w.logger.Debug("watcher: event %s", evt.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fired = timer.C
		case <-fired:
			fired = nil
			w.onReload(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: %v", err)
		}
	}
}

// watchDirs returns root plus its immediate subdirectories, tolerating a
// root that cannot be read (fsnotify.Add on root itself will surface any
// real error).
func watchDirs(root string) []string {
	dirs := []string{root}
	entries, err := os.ReadDir(root)
	if err != nil {
		return dirs
	}
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs
}
