// Package debounce coalesces bursts of per-file filesystem events into a
// single downstream delivery per debounce window — the same
// time.AfterFunc-based pattern the teacher repo duplicates inline in both
// its config reloader and its TLS cert loader watch loops, pulled out
// into one reusable, independently tested unit.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/tls-hotreload/fsevent"
	"github.com/dskow/tls-hotreload/internal/metrics"
)

// RawEvent is one undebounced observation for a single file.
type RawEvent struct {
	Path string
	Kind fsevent.Kind
}

// Debouncer buffers RawEvents per file over a fixed window and delivers
// one coalesced fsevent.FileChangeEvent per file once the window
// elapses without suppressing any kind seen during it. A window of zero
// disables debouncing: events are delivered synchronously, in-line with
// Push.
type Debouncer struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingWindow
	deliver func(fsevent.FileChangeEvent)
}

type pendingWindow struct {
	kinds []fsevent.Kind
	timer *time.Timer
}

// New returns a Debouncer with the given window. deliver is called
// exactly once per window per file (the window starts at that file's
// first buffered event), holding no Debouncer locks,
// so deliver may itself call back into the Debouncer (e.g. to Push
// further events) without deadlocking.
func New(window time.Duration, logger *slog.Logger, deliver func(fsevent.FileChangeEvent)) *Debouncer {
	return &Debouncer{
		window:  window,
		logger:  logger,
		pending: make(map[string]*pendingWindow),
		deliver: deliver,
	}
}

// Push records a raw event for path. If window is zero, it delivers
// immediately. Otherwise it anchors a debounce window to the first event
// seen for path and appends kind to the buffered list in arrival order;
// later events arriving before that window elapses extend the buffered
// kinds but do not push the deadline back.
func (d *Debouncer) Push(event RawEvent) {
	metrics.DebounceEventsRaw.WithLabelValues(event.Path).Inc()
	if d.window <= 0 {
		d.safeDeliver(fsevent.FileChangeEvent{Path: event.Path, Kinds: []fsevent.Kind{event.Kind}})
		return
	}

	d.mu.Lock()
	pw, ok := d.pending[event.Path]
	if !ok {
		pw = &pendingWindow{}
		d.pending[event.Path] = pw
		path := event.Path
		pw.timer = time.AfterFunc(d.window, func() { d.fire(path) })
	}
	pw.kinds = append(pw.kinds, event.Kind)
	d.mu.Unlock()
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	pw, ok := d.pending[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	kinds := pw.kinds
	delete(d.pending, path)
	d.mu.Unlock()

	d.safeDeliver(fsevent.FileChangeEvent{Path: path, Kinds: kinds})
}

// safeDeliver isolates a panicking consumer: the debouncer logs and keeps
// functioning for every other file, per spec.md §4.2.
func (d *Debouncer) safeDeliver(event fsevent.FileChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("debounce consumer panicked", "path", event.Path, "panic", r)
			}
		}
	}()
	d.deliver(event)
	metrics.DebounceEventsDelivered.WithLabelValues(event.Path).Inc()
}

// Close stops every pending timer without delivering their buffered
// events. Already-buffered debounced events may be discarded, matching
// spec.md §5's cancellation semantics.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, pw := range d.pending {
		if pw.timer != nil {
			pw.timer.Stop()
		}
		delete(d.pending, path)
	}
}
