// control/file.go
// Author: momentics <momentics@gmail.com>
//
// JSON options file loading and fsnotify-driven hot reload into a ConfigStore.

package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/momentics/hioload-net/internal/logging"
)

var log = logging.For("control")

// LoadFile reads a flat JSON object of options.
func LoadFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return out, nil
}

// Watch loads path into store and reloads it whenever the file changes
// until ctx is done. The parent directory is watched so editors that
// replace the file by rename are noticed. A file that fails to parse is
// logged and the previous values stay in effect.
func Watch(ctx context.Context, path string, store *ConfigStore) error {
	path = filepath.Clean(path)
	cfg, err := LoadFile(path)
	if err != nil {
		return err
	}
	store.SetConfig(cfg)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

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
				if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := LoadFile(path)
				if err != nil {
					log.Warn("config reload skipped", "path", path, "error", err)
					continue
				}
				log.Info("config reloaded", "path", path, "keys", len(cfg))
				store.SetConfig(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
