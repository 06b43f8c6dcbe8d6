package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// PathWatcher nudges a heartbeat as soon as a watched file changes so
// the evaluator picks the change up within the poll interval instead of
// at the next scheduled beat. The stat comparison in Evaluate stays
// authoritative; a missed event only delays the alert until then.
type PathWatcher struct {
	paths  map[string]bool
	kick   func()
	logger *slog.Logger
}

// NewPathWatcher creates a PathWatcher over the given files. kick runs
// once per relevant filesystem event.
func NewPathWatcher(paths []string, kick func(), logger *slog.Logger) *PathWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		want[p] = true
	}
	return &PathWatcher{
		paths:  want,
		kick:   kick,
		logger: logger.With("component", "trigger.watcher"),
	}
}

// Start begins watching until ctx is canceled. Watches register on the
// parent directories so editors that replace a file wholesale are still
// seen.
func (pw *PathWatcher) Start(ctx context.Context) error {
	if len(pw.paths) == 0 {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("trigger: new watcher: %w", err)
	}
	dirs := map[string]bool{}
	for p := range pw.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			pw.logger.Warn("watch add failed", "dir", dir, "error", err)
		}
	}

	go func() {
		defer func() { _ = fsw.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if !pw.paths[ev.Name] {
					continue
				}
				pw.logger.Debug("watched file changed", "path", ev.Name, "op", ev.Op.String())
				pw.kick()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				pw.logger.Warn("path watcher error", "error", err)
			}
		}
	}()
	return nil
}
