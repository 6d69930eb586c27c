// Package fileobserver watches a dynamic set of individual files —
// rather than directories — coalescing the underlying OS-level directory
// notifications into per-file events for a single consumer. It is the
// generalization of the fixed-path, fsnotify-plus-debounce-timer watch
// loop the teacher repo writes out by hand in both its config reloader
// and its TLS certificate loader.
package fileobserver

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dskow/tls-hotreload/debounce"
	"github.com/dskow/tls-hotreload/fsevent"
)

// ErrAlreadyStarted is returned by Start when called more than once on
// the same Observer.
var ErrAlreadyStarted = errors.New("fileobserver: already started")

// ErrClosed is returned by Watch/Unwatch after Close.
var ErrClosed = errors.New("fileobserver: observer is closed")

// Observer watches a dynamic set of files (not directories) for changes,
// delivering coalesced events to a single Consumer. The OS watch
// mechanism (fsnotify, here backed by inotify/kqueue/ReadDirectoryChangesW
// depending on platform) watches directories; Observer maintains the
// file-to-directory and directory-to-watch-count bookkeeping needed to
// expose a file-level watch API on top of it.
type Observer struct {
	logger *slog.Logger
	window time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	files   map[string]struct{} // watched file paths, as given to Watch
	dirRefs map[string]int      // parent dir -> number of watched files under it

	debouncer *debounce.Debouncer
	consumer  fsevent.Consumer

	started bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an Observer. window is the debounce window passed through
// to the internal EventDebouncer (zero disables debouncing).
func New(window time.Duration, logger *slog.Logger) (*Observer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fileobserver: creating watcher: %w", err)
	}
	return &Observer{
		logger:  logger,
		window:  window,
		watcher: watcher,
		files:   make(map[string]struct{}),
		dirRefs: make(map[string]int),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Watch adds path to the watched set. Idempotent: watching the same path
// twice produces one effective subscription. The enclosing directory is
// watched at the OS level if it isn't already.
func (o *Observer) Watch(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, already := o.files[path]; already {
		return nil
	}

	dir := filepath.Dir(path)
	if o.dirRefs[dir] == 0 {
		if err := o.watcher.Add(dir); err != nil {
			return fmt.Errorf("fileobserver: watching directory %s: %w", dir, err)
		}
	}
	o.dirRefs[dir]++
	o.files[path] = struct{}{}
	return nil
}

// Unwatch removes path from the watched set. If the enclosing directory
// has no more watched files after this, it is unwatched at the OS level
// too.
func (o *Observer) Unwatch(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if _, ok := o.files[path]; !ok {
		return nil
	}
	delete(o.files, path)

	dir := filepath.Dir(path)
	o.dirRefs[dir]--
	if o.dirRefs[dir] <= 0 {
		delete(o.dirRefs, dir)
		if err := o.watcher.Remove(dir); err != nil && o.logger != nil {
			o.logger.Warn("fileobserver: unwatching directory", "dir", dir, "error", err)
		}
	}
	return nil
}

// Start begins background observation, delivering coalesced events to
// consumer. May be called at most once per Observer.
func (o *Observer) Start(consumer fsevent.Consumer) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.consumer = consumer
	o.debouncer = debounce.New(o.window, o.logger, o.deliverToConsumer)
	o.mu.Unlock()

	go o.runWithRestart()
	return nil
}

func (o *Observer) deliverToConsumer(event fsevent.FileChangeEvent) {
	defer func() {
		if r := recover(); r != nil && o.logger != nil {
			o.logger.Error("fileobserver: consumer panicked", "path", event.Path, "panic", r)
		}
	}()
	o.consumer.OnFileChanged(event)
}

// runWithRestart runs the watch loop, restarting it once if it dies from
// an unexpected panic; a second death disables the observer and is
// surfaced via logs, per spec.md §4.1.
func (o *Observer) runWithRestart() {
	defer close(o.doneCh)

	died := o.runOnce()
	if !died {
		return
	}
	if o.logger != nil {
		o.logger.Error("fileobserver: watch loop died unexpectedly, restarting once")
	}

	died = o.runOnce()
	if died && o.logger != nil {
		o.logger.Error("fileobserver: watch loop died a second time, observer disabled")
	}
}

// runOnce runs the fsnotify event loop until stopCh closes or fsnotify's
// channels close. Returns true if it exited via panic recovery (an
// "unexpected death") rather than a clean stop.
func (o *Observer) runOnce() (died bool) {
	defer func() {
		if r := recover(); r != nil {
			died = true
			if o.logger != nil {
				o.logger.Error("fileobserver: watch loop panic", "panic", r)
			}
		}
	}()

	for {
		select {
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return false
			}
			o.handleRawEvent(ev)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return false
			}
			if o.logger != nil {
				o.logger.Error("fileobserver: watcher error", "error", err)
			}
		case <-o.stopCh:
			return false
		}
	}
}

func (o *Observer) handleRawEvent(ev fsnotify.Event) {
	o.mu.Lock()
	_, watched := o.files[ev.Name]
	o.mu.Unlock()
	if !watched {
		// Event for a file in a watched directory that this Observer was
		// never asked to watch (or was already Unwatch'd) — reject it.
		return
	}

	kind, ok := mapKind(ev.Op)
	if !ok {
		// Overflow / unrecognized op kinds are ignored per spec.md §4.1.
		return
	}

	o.debouncer.Push(debounce.RawEvent{Path: ev.Name, Kind: kind})
}

func mapKind(op fsnotify.Op) (fsevent.Kind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return fsevent.Created, true
	case op&fsnotify.Write != 0:
		return fsevent.Modified, true
	case op&fsnotify.Remove != 0, op&fsnotify.Rename != 0:
		return fsevent.Deleted, true
	default:
		return 0, false
	}
}

// Close stops the background task, releases the debouncer, and releases
// every OS watch handle. Safe to call multiple times.
func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	started := o.started
	debouncer := o.debouncer
	o.mu.Unlock()

	close(o.stopCh)
	if started {
		<-o.doneCh
	}
	if debouncer != nil {
		debouncer.Close()
	}
	return o.watcher.Close()
}
