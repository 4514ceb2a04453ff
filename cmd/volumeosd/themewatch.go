package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const themeReloadDebounce = 150 * time.Millisecond

// themeWatcher re-resolves the theme when the config file or a legacy
// osd.conf changes, so a new theme applies without restarting the daemon.
//
// Directories are watched rather than files: editors replace files by
// rename, and osd.conf may not exist yet.
type themeWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	resolve  func() Theme
	apply    func(Theme)
	logger   *slog.Logger
	debounce time.Duration
}

func newThemeWatcher(files []string, resolve func() Theme, apply func(Theme), logger *slog.Logger) (*themeWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	tw := &themeWatcher{
		watcher:  w,
		files:    make(map[string]struct{}, len(files)),
		resolve:  resolve,
		apply:    apply,
		logger:   logger,
		debounce: themeReloadDebounce,
	}

	dirs := make(map[string]struct{})
	for _, f := range files {
		f = filepath.Clean(f)
		tw.files[f] = struct{}{}
		dirs[filepath.Dir(f)] = struct{}{}
	}
	watched := 0
	for dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			logger.Warn("cannot watch theme directory", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		w.Close()
		return nil, fmt.Errorf("no theme directories to watch")
	}
	return tw, nil
}

// Run applies re-resolved themes until ctx is canceled.
func (tw *themeWatcher) Run(ctx context.Context) error {
	defer tw.watcher.Close()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return nil
			}
			if _, interesting := tw.files[filepath.Clean(ev.Name)]; !interesting {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			tw.logger.Debug("theme source changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(tw.debounce)
			} else {
				timer.Reset(tw.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			tw.apply(tw.resolve())

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return nil
			}
			tw.logger.Warn("theme watcher error", "error", err)
		}
	}
}
