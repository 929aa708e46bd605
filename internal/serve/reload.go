package serve

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"futurebuild/internal/fileutil"
	"futurebuild/internal/logging"
)

// reloadDebounce coalesces the burst of events a rebuild produces.
const reloadDebounce = 200 * time.Millisecond

// reloadHub fans reload notifications out to subscribed event streams.
type reloadHub struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[chan uint64]struct{}
	closed bool
}

func newReloadHub() *reloadHub {
	return &reloadHub{subs: make(map[chan uint64]struct{})}
}

func (h *reloadHub) subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// broadcast never blocks; a subscriber with a pending event keeps that one.
func (h *reloadHub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	for ch := range h.subs {
		select {
		case ch <- h.seq:
		default:
		}
	}
}

func (h *reloadHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// watcher reports changes anywhere under a directory tree.
type watcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// watchTree watches root and its subdirectories, calling onChange once per
// debounced burst. The parent is watched too so a build that deletes and
// recreates root is followed.
func watchTree(root string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{fs: fw, done: make(chan struct{})}
	if err := fw.Add(filepath.Dir(root)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if err := addTree(fw, root); err != nil {
		_ = fw.Close()
		return nil, err
	}

	go func() {
		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-w.done:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-fire:
				onChange()
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if !relevant(root, event) {
					continue
				}
				if event.Has(fsnotify.Create) {
					// new directories (or a recreated root) need their own watches
					_ = addTree(fw, event.Name)
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Debug("watch error", logging.Error(err))
			}
		}
	}()
	return w, nil
}

func relevant(root string, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return fileutil.Within(root, event.Name)
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *watcher) close() {
	w.once.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
}
