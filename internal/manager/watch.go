package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RefreshFunc receives the outcome of each refresh triggered by Watch.
type RefreshFunc func(RefreshReport, error)

// Watch refreshes once, then watches the archive root and refreshes again
// whenever filesystem activity has been quiet for the debounce interval. It
// returns nil when ctx ends. Refresh errors other than catalog corruption are
// passed to onRefresh and watching continues.
func (m *Manager) Watch(ctx context.Context, onRefresh RefreshFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manager: watch: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, m.root); err != nil {
		return fmt.Errorf("manager: watch %s: %w", m.root, err)
	}

	refresh := func() error {
		rep, err := m.Refresh(ctx)
		if onRefresh != nil {
			onRefresh(rep, err)
		}
		if err != nil && isFatal(err) {
			return err
		}
		return nil
	}
	if err := refresh(); err != nil {
		return err
	}

	tick := m.debounce / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if hidden(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(fw, event.Name); err != nil {
						m.logger.Warn("watch: cannot follow directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				last = time.Now()
			}

		case <-ticker.C:
			if last.IsZero() || time.Since(last) < m.debounce {
				continue
			}
			last = time.Time{}
			if err := refresh(); err != nil {
				return err
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return fs.SkipDir
		}
		return fw.Add(path)
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
