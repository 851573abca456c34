package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry from path whenever the file is written or
// replaced. It blocks until ctx is done. A document that fails to load is
// logged and the previous registry stays in effect.
func (r *Registry) Watch(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving registry path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so the directory is watched.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch registry: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.LoadFile(absPath); err != nil {
				r.logger.Warn().Err(err).Str("path", absPath).Msg("Registry reload failed, keeping previous")
				continue
			}
			r.logger.Info().Str("path", absPath).Msg("Tool registry reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn().Err(err).Msg("Registry watcher error")
		}
	}
}
