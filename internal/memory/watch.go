package memory

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store's in-memory envelope whenever its backing file
// changes on disk, so a long-running process picks up edits made by another
// process (or by a concurrent `momentum` invocation) without restarting.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	errc    chan error
	done    chan struct{}
}

// WatchStore starts watching store's backing file for external changes. It
// watches the file's directory, so a file replaced by an atomic rename (as
// Store's own saves do) is still picked up. Call Close to stop.
func WatchStore(store *Store) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(store.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	watcher := &Watcher{store: store, watcher: w, errc: make(chan error, 1), done: make(chan struct{})}
	go watcher.loop()
	return watcher, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.store.path) && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if reloaded, err := Open(w.store.path); err == nil {
					w.store.mu.Lock()
					w.store.data = reloaded.data
					w.store.mu.Unlock()
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errc <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

// Errors returns a channel that receives watch errors, best-effort (a full
// buffer drops subsequent errors until the next read).
func (w *Watcher) Errors() <-chan error { return w.errc }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
