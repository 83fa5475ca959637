package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/michaelayoade/dotmac-governance/pkg/observability"
)

// WatchSeed watches the seed file and invokes onReload with the freshly
// parsed seed on every change. A seed that fails to load is logged and
// skipped; the previously applied seed stays in effect. The returned stop
// function shuts the watcher down.
func WatchSeed(path string, logger *observability.Logger, onReload func(*Seed)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and config mounts replace
	// the file instead of writing it in place.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		defer observability.RecoverPanic(logger, "seed watcher")
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				seed, err := LoadSeed(path)
				if err != nil {
					logger.WithError(err).Warn("seed reload failed, keeping previous seed")
					continue
				}
				logger.WithField("path", path).Info("seed reloaded")
				onReload(seed)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("seed watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
