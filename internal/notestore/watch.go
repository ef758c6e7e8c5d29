package notestore

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports external modifications to the store file so the in-memory
// collection can be reloaded. The store's own atomic writes also surface
// here; callers are expected to treat reloads as idempotent.
type Watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch monitors the store file's directory and invokes onChange after the
// file is written or created (renames from the atomic write path land as
// Create events). A small delay lets the write settle before the callback.
func (s *FileStore) Watch(onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: rename-based writes replace the
	// inode, which would silently drop a file-level watch.
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// Small delay to ensure write is complete
					time.Sleep(50 * time.Millisecond)
					onChange()
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
