package settings

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the cache when the settings file is rewritten by another
// process. Removing the file does not clear the cache. Watching stops when
// ctx is done.
func (f *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	// Watch the directory: atomic saves replace the file, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch settings directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if f.reload() {
					f.log.Info("Reloaded settings after external change")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warn("Settings watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
