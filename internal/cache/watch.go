package cache

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// factDirWatcher watches the cache's fact directory and invalidates
// the freshness of any predicate whose .facts file is written, created
// or removed, so the next query regenerates it. Events are not told
// apart by origin: the cache's own regeneration writes invalidate a
// predicate just as out-of-band edits (an operator editing a .facts
// file by hand) do.
type factDirWatcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// WatchFactDir starts watching the cache's fact directory for changes
// to .facts files. Calling it twice on the same Cache stops the
// previous watcher and replaces it.
func (c *Cache) WatchFactDir() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.factDir); err != nil {
		w.Close()
		return err
	}

	if c.watcher != nil {
		c.watcher.close()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watcher = &factDirWatcher{watcher: w, cancel: cancel}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				c.handleFactFileEvent(event)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.logger.Warn("fact directory watch error", zap.Error(err))
			}
		}
	}()

	return nil
}

// handleFactFileEvent invalidates the predicate named by a changed
// .facts file. A write to "liked.facts" invalidates "liked"; a write
// to "_all_liked.facts" invalidates "_all_liked"; anything else
// (the evaluator's own _query_result.csv, temp files) is ignored.
func (c *Cache) handleFactFileEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return
	}
	name := filepath.Base(event.Name)
	predicate, ok := strings.CutSuffix(name, ".facts")
	if !ok {
		return
	}
	c.regen.freshMu.Lock()
	delete(c.regen.fresh, predicate)
	c.regen.freshMu.Unlock()
	c.logger.Debug("fact file changed out of band, invalidated", zap.String("predicate", predicate))
}

func (w *factDirWatcher) close() error {
	w.cancel()
	return nil
}
