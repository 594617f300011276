package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reconciles the trigger table whenever the database at dbPath
// changes, and every interval regardless. Streams are managed by separate
// CLI invocations, so file changes are how a running daemon learns of
// them. Watch blocks until ctx is done.
func (s *Scheduler) Watch(ctx context.Context, dbPath string, interval time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// SQLite writes land in -wal and -journal siblings, so watch the directory.
	dir, base := filepath.Split(dbPath)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.Debug("watching database", "path", dbPath, "reconcile_interval", interval)

	var periodic <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		periodic = ticker.C
	}

	debounce := time.NewTimer(s.debounce)
	debounce.Stop()
	defer debounce.Stop()

	reconcile := func() {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("reconcile failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(s.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("database watcher error", "err", err)
		case <-debounce.C:
			reconcile()
		case <-periodic:
			reconcile()
		}
	}
}
