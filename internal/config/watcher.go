package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration when its file changes on disk.
// Callers apply reloads between cycles, never mid-cycle.
type Watcher struct {
	loader  *Loader
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher over the loader's config file.
func NewWatcher(loader *Loader, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{loader: loader, logger: logger, watcher: fw}, nil
}

// Watch invokes onReload with the freshly loaded config every time the
// file is written. It blocks until the context is done.
func (w *Watcher) Watch(ctx context.Context, onReload func(*Config)) error {
	path, err := w.loader.Path()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace the file on save, which drops
	// a watch placed on the file itself.
	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Ignoring invalid config change")
				continue
			}
			w.logger.Info().Str("path", path).Msg("Configuration reloaded")
			onReload(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
