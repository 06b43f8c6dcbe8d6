package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/workmem/internal/artifact"
)

const watchDebounce = 150 * time.Millisecond

// Watcher reindexes the workspace when artifact files change on disk.
// Event bursts are debounced so a compaction writing several files
// triggers a single pass.
type Watcher struct {
	ws      *artifact.Workspace
	indexer *Indexer
	logger  *slog.Logger
}

// NewWatcher creates a Watcher over the indexer's workspace.
func NewWatcher(ws *artifact.Workspace, indexer *Indexer, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		ws:      ws,
		indexer: indexer,
		logger:  logger.With("component", "search.watcher"),
	}
}

// Start begins watching until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("search: new watcher: %w", err)
	}

	addDir := func(dir string) {
		if err := fsw.Add(dir); err != nil {
			if os.IsNotExist(err) {
				return
			}
			w.logger.Warn("watch add failed", "dir", dir, "error", err)
		}
	}
	addDir(w.ws.Root())
	for _, sub := range []string{artifact.DirFacts, artifact.DirEpisodes, artifact.DirProcedures} {
		addDir(filepath.Join(w.ws.Root(), sub))
	}

	go func() {
		defer func() { _ = fsw.Close() }()

		var pending bool
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			if _, _, err := w.indexer.Reindex(ctx); err != nil {
				w.logger.Warn("reindex after change failed", "error", err)
			}
		}

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

				// Artifact subdirectories appear lazily on first write.
				relevant := strings.HasSuffix(ev.Name, ".md")
				if ev.Op&fsnotify.Create != 0 {
					if fi, statErr := os.Stat(ev.Name); statErr == nil && fi.IsDir() {
						addDir(ev.Name)
						relevant = true
					}
				}
				if !relevant {
					continue
				}

				pending = true
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
					timerC = timer.C
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("workspace watcher error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()

	return nil
}
