package bundle

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// WatchRoot watches the cache's storage root for out-of-band removal of
// entry directories (an operator running `rm -rf` on the cache, a disk
// cleanup job) and drops the corresponding in-memory entry so a later
// Acquire re-materializes it instead of handing back a dangling path.
// It runs until stop is closed.
func (c *Cache) WatchRoot(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(c.root); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					c.reconcileRemoval(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("bundle cache watch error", "error", err)
			}
		}
	}()

	return nil
}

// reconcileRemoval drops the in-memory entry matching a directory that
// disappeared out from under the cache, regardless of ref-count: the
// directory is already gone, so keeping the entry would hand out a
// stale path on the next Acquire.
func (c *Cache) reconcileRemoval(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.directory == path {
			delete(c.entries, key)
			c.logger.Info("bundle cache entry reconciled after external removal", "key", key, "path", path)
			return
		}
	}
}
