// Package reload implements the ReloadCoordinator: the one place where
// watched files, credential stores, and their dependent listeners meet.
// It owns the weak-reference lifecycle of both stores and listeners and
// serializes every mutation and every reload propagation through a
// single mutex, matching spec.md §4.3's concurrency model.
package reload

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/dskow/tls-hotreload/credstore"
	"github.com/dskow/tls-hotreload/fsevent"
	"github.com/dskow/tls-hotreload/internal/metrics"
)

// storeEntry is one registered store's bookkeeping: a weak reference to
// the store itself, its serialized spec text (used both to match
// incoming listeners and to compare against file-change events), the
// data path it watches, and the ordered set of listeners registered
// against it.
type storeEntry struct {
	store     weak.Pointer[credstore.Store]
	specText  string
	dataPath  string
	listeners []*listenerEntry
}

type listenerEntry struct {
	seq uint64
	wl  weakListener
}

// Coordinator is the ReloadCoordinator. Stores and listeners are held
// weakly; a fileobserver.Observer (or anything satisfying the same
// Watch/Unwatch contract) is driven to watch/unwatch data paths as
// stores register and are garbage-collected.
type Coordinator struct {
	fileWatcher FileWatcher
	logger      *slog.Logger

	mu      sync.Mutex
	nextSeq atomic.Uint64
	stores  []*storeEntry
}

// FileWatcher is the subset of fileobserver.Observer the coordinator
// needs: adding and removing individual file watches as stores are
// registered and collected.
type FileWatcher interface {
	Watch(path string) error
	Unwatch(path string) error
}

// NewCoordinator creates a Coordinator that drives fileWatcher as stores
// are registered and garbage-collected. fileWatcher may be nil in tests
// that only exercise registration/listener ordering without a live file
// watch.
func NewCoordinator(fileWatcher FileWatcher, logger *slog.Logger) *Coordinator {
	return &Coordinator{fileWatcher: fileWatcher, logger: logger}
}

// Register records store with the coordinator and starts watching its
// data file. Stores are held weakly: once store becomes unreachable
// elsewhere, the next sweep (triggered by any subsequent Register,
// Listen, OnFileChanged, or ReloadAll call) unwatches its data path.
// Register returns an explicit unregister function for callers that
// prefer deterministic cleanup to waiting on garbage collection.
func (c *Coordinator) Register(store *credstore.Store) (unregister func(), err error) {
	spec := store.Spec()
	if spec == nil {
		return nil, ErrStoreNotLoaded
	}
	specText, err := spec.Serialize()
	if err != nil {
		return nil, fmt.Errorf("reload: serializing spec for registration: %w", err)
	}

	entry := &storeEntry{
		store:    weak.Make(store),
		specText: specText,
		dataPath: spec.DataPath,
	}

	c.mu.Lock()
	c.sweepLocked()
	c.stores = append(c.stores, entry)
	metrics.WatchedStores.Set(float64(len(c.stores)))
	c.mu.Unlock()

	if c.fileWatcher != nil {
		if err := c.fileWatcher.Watch(spec.DataPath); err != nil {
			return nil, fmt.Errorf("reload: watching %s: %w", spec.DataPath, err)
		}
	}

	return func() { c.unregister(entry) }, nil
}

func (c *Coordinator) unregister(target *storeEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stores[:0]
	for _, se := range c.stores {
		if se != target {
			out = append(out, se)
		}
	}
	c.stores = out
	metrics.WatchedStores.Set(float64(len(c.stores)))
	if c.fileWatcher != nil {
		c.fileWatcher.Unwatch(target.dataPath)
	}
}

// Listen registers l as a reload listener. l exposes (via
// UnderlyingStores) the set of credstore.Store instances it depends on;
// the coordinator matches each one against its own registered stores by
// pointer identity and adds l to every match's listener list under a
// fresh, globally increasing SeqNum. l is held weakly: once it becomes
// unreachable elsewhere it stops being notified without any explicit
// unregistration. Serialized spec text (storeEntry.specText) is kept for
// the cross-process/opaque-handle matching spec.md §9 describes; this
// in-process coordinator only needs pointer identity.
func Listen[T any, PT interface {
	*T
	Listener
}](c *Coordinator, l PT) error {
	wl := newWeakListener[T](l)
	underlying := l.UnderlyingStores()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	matched := false
	for _, store := range underlying {
		for _, se := range c.stores {
			if se.store.Value() == store {
				seq := c.nextSeq.Add(1)
				se.listeners = append(se.listeners, &listenerEntry{seq: seq, wl: wl})
				matched = true
			}
		}
	}
	if !matched {
		return ErrNoMatchingStore
	}
	return nil
}

// OnFileChanged locates every registered store whose data path matches
// event.Path, reloads each from disk, and — for every store that reloads
// successfully — fans its listeners out in ascending SeqNum order. A
// store whose reload fails keeps its previous generation and is logged,
// not notified (notifying listeners of an unchanged generation would be
// pure overhead; see DESIGN.md open question 5). If no live store
// matches the path, it is unwatched.
func (c *Coordinator) OnFileChanged(event fsevent.FileChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	var matches []*storeEntry
	for _, se := range c.stores {
		if se.dataPath == event.Path {
			matches = append(matches, se)
		}
	}

	if len(matches) == 0 {
		if c.fileWatcher != nil {
			c.fileWatcher.Unwatch(event.Path)
		}
		return
	}

	for _, se := range matches {
		store := se.store.Value()
		if store == nil {
			continue
		}
		start := time.Now()
		err := store.ReloadFromDisk()
		metrics.ReloadDuration.WithLabelValues(se.dataPath).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ReloadsTotal.WithLabelValues(se.dataPath, "failure").Inc()
			if c.logger != nil {
				c.logger.Error("reload: store reload failed, keeping previous generation",
					"path", se.dataPath, "error", err)
			}
			continue
		}
		metrics.ReloadsTotal.WithLabelValues(se.dataPath, "success").Inc()
		c.notifyListenersLocked(se)
	}
}

// ReloadAll is the operator-initiated global reload: every live store is
// reloaded, and then every surviving listener of every store that
// reloaded successfully fires in one global SeqNum order (spec.md §4.3);
// listeners of a store whose reload failed are not notified (DESIGN.md
// open question 5). Per-store reload errors are
// collected and returned rather than stopping the sweep — per DESIGN.md
// open question 2, a failing store does not prevent the rest from being
// attempted.
func (c *Coordinator) ReloadAll() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	var errs []error
	reloaded := make(map[*storeEntry]bool, len(c.stores))
	for _, se := range c.stores {
		store := se.store.Value()
		if store == nil {
			continue
		}
		start := time.Now()
		err := store.ReloadFromDisk()
		metrics.ReloadDuration.WithLabelValues(se.dataPath).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ReloadsTotal.WithLabelValues(se.dataPath, "failure").Inc()
			if c.logger != nil {
				c.logger.Error("reload: reloadAll: store reload failed",
					"path", se.dataPath, "error", err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", se.dataPath, err))
			continue
		}
		metrics.ReloadsTotal.WithLabelValues(se.dataPath, "success").Inc()
		reloaded[se] = true
	}

	type fanoutEntry struct {
		seq      uint64
		listener Listener
	}
	var fanout []fanoutEntry
	for _, se := range c.stores {
		if !reloaded[se] {
			continue
		}
		for _, le := range se.listeners {
			if l := le.wl.get(); l != nil {
				fanout = append(fanout, fanoutEntry{seq: le.seq, listener: l})
			}
		}
	}
	sort.Slice(fanout, func(i, j int) bool { return fanout[i].seq < fanout[j].seq })
	for _, fe := range fanout {
		c.safeNotify(fe.listener)
	}

	return errs
}

// notifyListenersLocked fans se's listeners out in ascending SeqNum
// order. Callers must hold c.mu.
func (c *Coordinator) notifyListenersLocked(se *storeEntry) {
	alive := se.listeners[:0]
	for _, le := range se.listeners {
		if l := le.wl.get(); l != nil {
			alive = append(alive, le)
		}
	}
	se.listeners = alive

	// alive is already in ascending seq order: seq is monotonically
	// assigned at append time and dead entries are only ever removed, not
	// reordered.
	for _, le := range alive {
		if l := le.wl.get(); l != nil {
			c.safeNotify(l)
		}
	}
}

// safeNotify isolates a failing listener callback: per spec.md §4.3, a
// listener that fails does not stop iteration over the remaining
// listeners.
func (c *Coordinator) safeNotify(l Listener) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenersNotifiedTotal.WithLabelValues("panic").Inc()
			if c.logger != nil {
				c.logger.Error("reload: listener panicked during OnReloaded", "panic", r)
			}
		}
	}()
	l.OnReloaded()
	metrics.ListenersNotifiedTotal.WithLabelValues("ok").Inc()
}

// ListenerCount returns the number of live listeners registered against
// the store whose data path is path, for tests and diagnostics (spec.md
// §8 scenario 6).
func (c *Coordinator) ListenerCount(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	for _, se := range c.stores {
		if se.dataPath == path {
			return len(se.listeners)
		}
	}
	return 0
}

// sweepLocked prunes storeEntries whose store has been garbage-collected
// (unwatching their data path) and dead listenerEntries from every
// surviving store. Callers must hold c.mu.
func (c *Coordinator) sweepLocked() {
	alive := c.stores[:0]
	for _, se := range c.stores {
		if se.store.Value() == nil {
			if c.fileWatcher != nil {
				c.fileWatcher.Unwatch(se.dataPath)
			}
			continue
		}
		aliveListeners := se.listeners[:0]
		for _, le := range se.listeners {
			if le.wl.get() != nil {
				aliveListeners = append(aliveListeners, le)
			}
		}
		se.listeners = aliveListeners
		alive = append(alive, se)
	}
	c.stores = alive
}
