// Package watch reports changes to a single file using fsnotify.
//
// The parent directory is watched rather than the file itself, because
// editors commonly save by writing a temporary file and renaming it over
// the original, which would drop a watch on the old inode. Bursts of
// events are collapsed: the callback runs once the file has been quiet
// for the debounce delay. Callbacks never overlap; changes that arrive
// while one runs are folded into a single follow-up call.
package watch

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is the quiet period used when none is given.
const DefaultDelay = 200 * time.Millisecond

// Watcher watches one file.
type Watcher struct {
	fw     *fsnotify.Watcher
	path   string
	delay  time.Duration
	logger *slog.Logger

	// fire holds at most one pending callback for the worker goroutine.
	fire    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// New creates a watcher for path. A zero delay means DefaultDelay.
func New(path string, delay time.Duration, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fw:     fw,
		path:   abs,
		delay:  delay,
		logger: logger,
		fire:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Watch starts monitoring. onChange runs on a single worker goroutine
// after each burst of writes, creates or renames touching the file.
func (w *Watcher) Watch(onChange func()) error {
	if onChange == nil {
		return errors.New("watch: nil callback")
	}
	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-w.fire:
				select {
				case <-w.done:
					return
				default:
				}
				onChange()
			case <-w.done:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case event, ok := <-w.fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != w.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					w.schedule()
				}

			case err, ok := <-w.fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watch error", "path", w.path, "error", err)

			case <-w.done:
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.trigger)
}

// trigger queues a callback unless one is already queued.
func (w *Watcher) trigger() {
	select {
	case w.fire <- struct{}{}:
	default:
	}
}

// Stop ends monitoring and cancels a pending callback. Safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.done)
	return w.fw.Close()
}
