package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchForValidation watches path for changes and re-validates the file on
// every write, logging the result. It never swaps in the new config for a
// running pipeline — camera workers are started once at boot (spec §5) —
// it only gives an operator early warning that an edited config file is
// broken before the next restart picks it up. Falls back to a 60s poll if
// the watch itself cannot be established (e.g. the file doesn't exist
// yet).
func WatchForValidation(ctx context.Context, path string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watcher: fsnotify unavailable, falling back to polling", "error", err)
		pollForValidation(ctx, path, log)
		return
	}
	if err := watcher.Add(path); err != nil {
		log.Warn("config watcher: failed to watch file, falling back to polling", "path", path, "error", err)
		watcher.Close()
		pollForValidation(ctx, path, log)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					validateAndLog(path, log)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()
}

func pollForValidation(ctx context.Context, path string, log *slog.Logger) {
	ticker := time.NewTicker(60 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				validateAndLog(path, log)
			}
		}
	}()
}

func validateAndLog(path string, log *slog.Logger) {
	if _, err := Load(path); err != nil {
		log.Error("config validation failed after change", "path", path, "error", err)
		return
	}
	log.Info("config re-validated cleanly", "path", path)
}
