package fileobserver

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dskow/tls-hotreload/fsevent"
)

type collectingConsumer struct {
	mu     sync.Mutex
	events []fsevent.FileChangeEvent
}

func (c *collectingConsumer) OnFileChanged(event fsevent.FileChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collectingConsumer) snapshot() []fsevent.FileChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fsevent.FileChangeEvent, len(c.events))
	copy(out, c.events)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestObserver_WatchIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("1"), 0o600)

	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer obs.Close()

	if err := obs.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := obs.Watch(path); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	if got := obs.dirRefs[dir]; got != 1 {
		t.Errorf("expected one dir ref after idempotent watch, got %d", got)
	}
}

func TestObserver_UnwatchRemovesDirWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("1"), 0o600)

	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer obs.Close()

	if err := obs.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := obs.Unwatch(path); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	if _, ok := obs.dirRefs[dir]; ok {
		t.Error("expected directory ref to be removed once last file unwatched")
	}
}

func TestObserver_DeliversWriteEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer obs.Close()

	if err := obs.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	consumer := &collectingConsumer{}
	if err := obs.Start(consumer); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(path, []byte("2"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(consumer.snapshot()) > 0 })

	events := consumer.snapshot()
	if events[0].Path != path {
		t.Errorf("expected event for %s, got %s", path, events[0].Path)
	}
}

func TestObserver_IgnoresUnwatchedFilesInSameDirectory(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.txt")
	other := filepath.Join(dir, "other.txt")
	os.WriteFile(watched, []byte("1"), 0o600)
	os.WriteFile(other, []byte("1"), 0o600)

	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer obs.Close()

	if err := obs.Watch(watched); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	consumer := &collectingConsumer{}
	if err := obs.Start(consumer); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := os.WriteFile(other, []byte("2"), 0o600); err != nil {
		t.Fatalf("rewrite other: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if len(consumer.snapshot()) != 0 {
		t.Errorf("expected no events for unwatched file, got %v", consumer.snapshot())
	}
}

func TestObserver_StartTwiceFails(t *testing.T) {
	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer obs.Close()

	consumer := &collectingConsumer{}
	if err := obs.Start(consumer); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := obs.Start(consumer); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestObserver_CloseBeforeStart(t *testing.T) {
	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestObserver_OperationsAfterCloseFail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("1"), 0o600)

	obs, err := New(50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := obs.Watch(path); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
