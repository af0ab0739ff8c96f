// Package watcher turns external file writes into cache invalidations
// and realtime broadcasts, so a companion CLI editing the documents is
// reflected on every dashboard without polling from the browser.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// pollInterval drives the stat-based fallback when inotify is not
// available (some container filesystems).
const pollInterval = 2 * time.Second

// Target binds one watched path to its reaction.
type Target struct {
	Path    string
	OnWrite func()
}

// Watcher dispatches file-change events to registered targets.
type Watcher struct {
	targets []Target
	logger  zerolog.Logger
}

// New creates a watcher over the given targets.
func New(targets []Target, logger zerolog.Logger) *Watcher {
	return &Watcher{
		targets: targets,
		logger:  logger.With().Str("component", "watcher").Logger(),
	}
}

// Run blocks until the context is cancelled. It prefers fsnotify and
// falls back to mtime polling when the notify backend cannot start.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		w.poll(ctx)
		return
	}
	defer fsw.Close()

	// Watch parent directories: editors and atomic writers replace the
	// file, which would silently detach a direct file watch.
	dirs := map[string]struct{}{}
	for _, t := range w.targets {
		dirs[filepath.Dir(t.Path)] = struct{}{}
	}
	watching := 0
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("watch failed")
			continue
		}
		watching++
	}
	if watching == 0 {
		w.logger.Warn().Msg("no watchable directories, falling back to polling")
		w.poll(ctx)
		return
	}
	w.logger.Info().Int("dirs", watching).Msg("file watcher running")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.dispatch(ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) dispatch(path string) {
	for _, t := range w.targets {
		if filepath.Clean(path) != filepath.Clean(t.Path) {
			continue
		}
		w.logger.Debug().Str("path", path).Msg("file changed")
		t.OnWrite()
	}
}

// poll compares mtimes on an interval.
func (w *Watcher) poll(ctx context.Context) {
	mtimes := make(map[string]time.Time, len(w.targets))
	for _, t := range w.targets {
		if info, err := os.Stat(t.Path); err == nil {
			mtimes[t.Path] = info.ModTime()
		}
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range w.targets {
				info, err := os.Stat(t.Path)
				if err != nil {
					continue
				}
				if prev, seen := mtimes[t.Path]; !seen || info.ModTime().After(prev) {
					mtimes[t.Path] = info.ModTime()
					if seen {
						w.dispatch(t.Path)
					}
				}
			}
		}
	}
}
