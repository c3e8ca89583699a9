package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	appLog "swtfb/internal/log"
)

// Watch calls onChange with the freshly loaded config each time the file at
// path is written or replaced, until ctx is done. The parent directory is
// watched so atomic rename-over saves are seen. Configs that fail to load
// are logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					appLog.Error("config reload failed", err, "path", path)
					continue
				}
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				appLog.Error("config watcher error", err)
			}
		}
	}()
	return nil
}
