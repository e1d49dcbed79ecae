package watcher

import (
	"testing"
	"time"
)

func TestDebouncer_SingleEvent(t *testing.T) {
	d := NewDebouncer(50) // 50ms debounce
	defer d.Stop()

	d.Add("census.yaml", KindUpsert)

	select {
	case event := <-d.Events():
		if event.Path != "census.yaml" {
			t.Errorf("expected path 'census.yaml', got %q", event.Path)
		}
		if event.Kind != KindUpsert {
			t.Errorf("expected KindUpsert, got %v", event.Kind)
		}
	case <-time.After(200 * time.Millisecond):
		t.Error("timed out waiting for event")
	}
}

func TestDebouncer_CoalesceWrites(t *testing.T) {
	d := NewDebouncer(100) // 100ms debounce
	defer d.Stop()

	// Rapid writes to same file
	d.Add("census.yaml", KindUpsert)
	d.Add("census.yaml", KindUpsert)
	d.Add("census.yaml", KindUpsert)

	// Should only get one event
	eventCount := 0
	timeout := time.After(300 * time.Millisecond)

loop:
	for {
		select {
		case <-d.Events():
			eventCount++
		case <-timeout:
			break loop
		}
	}

	if eventCount != 1 {
		t.Errorf("expected 1 coalesced event, got %d", eventCount)
	}
}

func TestDebouncer_RemoveWins(t *testing.T) {
	d := NewDebouncer(100)
	defer d.Stop()

	// Save then delete within one window
	d.Add("census.yaml", KindUpsert)
	d.Add("census.yaml", KindRemove)

	select {
	case event := <-d.Events():
		if event.Kind != KindRemove {
			t.Errorf("expected KindRemove to win, got %v", event.Kind)
		}
	case <-time.After(300 * time.Millisecond):
		t.Error("timed out waiting for event")
	}
}

func TestDebouncer_RemoveSticksOverLateWrite(t *testing.T) {
	d := NewDebouncer(100)
	defer d.Stop()

	// A stale editor write after the delete must not resurrect the file.
	d.Add("census.yaml", KindRemove)
	d.Add("census.yaml", KindUpsert)

	select {
	case event := <-d.Events():
		if event.Kind != KindRemove {
			t.Errorf("expected KindRemove to stick, got %v", event.Kind)
		}
	case <-time.After(300 * time.Millisecond):
		t.Error("timed out waiting for event")
	}
}

func TestDebouncer_MultipleFiles(t *testing.T) {
	d := NewDebouncer(50)
	defer d.Stop()

	d.Add("one.yaml", KindUpsert)
	d.Add("two.yaml", KindUpsert)

	received := make(map[string]bool)
	timeout := time.After(200 * time.Millisecond)

loop:
	for {
		select {
		case event := <-d.Events():
			received[event.Path] = true
			if len(received) == 2 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}

	if !received["one.yaml"] || !received["two.yaml"] {
		t.Errorf("expected both files, got %v", received)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	d := NewDebouncer(5000) // Long debounce
	defer d.Stop()

	d.Add("census.yaml", KindUpsert)

	// Pending should be 1
	if d.PendingCount() != 1 {
		t.Errorf("expected 1 pending, got %d", d.PendingCount())
	}

	// Flush should emit immediately
	d.Flush()

	select {
	case event := <-d.Events():
		if event.Path != "census.yaml" {
			t.Errorf("expected path 'census.yaml', got %q", event.Path)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("flush should emit immediately")
	}

	if d.PendingCount() != 0 {
		t.Errorf("expected 0 pending after flush, got %d", d.PendingCount())
	}
}

func TestKind_String(t *testing.T) {
	if KindUpsert.String() != "upsert" || KindRemove.String() != "remove" {
		t.Errorf("Kind strings = %q, %q", KindUpsert, KindRemove)
	}
}
