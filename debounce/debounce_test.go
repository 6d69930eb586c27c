package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/dskow/tls-hotreload/fsevent"
)

type recorder struct {
	mu     sync.Mutex
	events []fsevent.FileChangeEvent
}

func (r *recorder) record(e fsevent.FileChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []fsevent.FileChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fsevent.FileChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestDebouncer_CoalescesBurstWithinWindow(t *testing.T) {
	rec := &recorder{}
	window := 200 * time.Millisecond
	d := New(window, nil, rec.record)

	start := time.Now()
	d.Push(RawEvent{Path: "a", Kind: fsevent.Created})
	time.Sleep(20 * time.Millisecond)
	d.Push(RawEvent{Path: "a", Kind: fsevent.Modified})
	time.Sleep(20 * time.Millisecond)
	d.Push(RawEvent{Path: "a", Kind: fsevent.Deleted})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	elapsed := time.Since(start)

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected exactly one coalesced delivery, got %d: %v", len(events), events)
	}
	want := []fsevent.Kind{fsevent.Created, fsevent.Modified, fsevent.Deleted}
	got := events[0].Kinds
	if len(got) != len(want) {
		t.Fatalf("expected %d kinds, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kind[%d]: got %v want %v", i, got[i], want[i])
		}
	}

	// The window is anchored to the first event (t0), not extended by the
	// later events at t0+20ms/t0+40ms, so delivery lands at t0+window, not
	// t0+40ms+window.
	if elapsed < window || elapsed > window+150*time.Millisecond {
		t.Errorf("expected delivery anchored to first event at ~%v, got %v", window, elapsed)
	}
}

func TestDebouncer_SteadyStreamBelowWindowStillFiresAtFirstEventPlusWindow(t *testing.T) {
	rec := &recorder{}
	window := 300 * time.Millisecond
	d := New(window, nil, rec.record)

	start := time.Now()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	stop := time.After(window + 100*time.Millisecond)
loop:
	for {
		select {
		case <-ticker.C:
			d.Push(RawEvent{Path: "a", Kind: fsevent.Modified})
		case <-stop:
			break loop
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	elapsed := time.Since(start)

	events := rec.snapshot()
	if len(events) == 0 {
		t.Fatal("expected a delivery to fire even though events kept arriving under the window")
	}
	if elapsed > window+150*time.Millisecond {
		t.Errorf("expected first delivery at ~%v from the first event, got %v", window, elapsed)
	}
}

func TestDebouncer_ZeroWindowDeliversSynchronously(t *testing.T) {
	rec := &recorder{}
	d := New(0, nil, rec.record)

	d.Push(RawEvent{Path: "a", Kind: fsevent.Created})

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected immediate synchronous delivery, got %d events", len(events))
	}
}

func TestDebouncer_IndependentFilesNotCoalescedTogether(t *testing.T) {
	rec := &recorder{}
	d := New(100*time.Millisecond, nil, rec.record)

	d.Push(RawEvent{Path: "a", Kind: fsevent.Modified})
	d.Push(RawEvent{Path: "b", Kind: fsevent.Modified})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected two independent deliveries, got %d: %v", len(events), events)
	}
}

func TestDebouncer_PanickingConsumerIsolated(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	d := New(10*time.Millisecond, nil, func(e fsevent.FileChangeEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		if e.Path == "panics" {
			panic("boom")
		}
	})

	d.Push(RawEvent{Path: "panics", Kind: fsevent.Modified})
	time.Sleep(100 * time.Millisecond)
	d.Push(RawEvent{Path: "fine", Kind: fsevent.Modified})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected debouncer to keep functioning after a panic, got %d calls", calls)
	}
}

func TestDebouncer_Close_DropsPendingWithoutDelivering(t *testing.T) {
	rec := &recorder{}
	d := New(500*time.Millisecond, nil, rec.record)

	d.Push(RawEvent{Path: "a", Kind: fsevent.Modified})
	d.Close()
	time.Sleep(700 * time.Millisecond)

	if len(rec.snapshot()) != 0 {
		t.Fatalf("expected no delivery after Close, got %v", rec.snapshot())
	}
}
