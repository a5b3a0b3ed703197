package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads cfg in place whenever path changes on disk, debounced so a
// burst of writes from an editor's save-and-rename doesn't trigger repeated
// reparses. Returns the watcher's Close func. Parse errors are logged and
// the previous, already-validated config is kept running.
func Watch(path string, cfg *Config, log *slog.Logger) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		var timer *time.Timer
		reload := func() {
			next, err := Load(path)
			if err != nil {
				log.Warn("config reload failed, keeping previous config", "error", err)
				return
			}
			cfg.ReplaceFrom(next)
			log.Info("config reloaded", "path", path)
		}

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w.Close, nil
}
