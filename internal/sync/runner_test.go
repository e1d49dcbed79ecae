package sync

import (
	"context"
	"testing"
	"time"
)

func TestRunnerStartupAndTriggeredCycles(t *testing.T) {
	storage := newFakeStorage()
	m, _ := newTestManager(t, storage)

	r := NewRunner(m, time.Hour) // timer out of the picture
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// Startup cycle fires immediately.
	select {
	case sum := <-r.Results():
		if sum.Trigger != TriggerStartup {
			t.Errorf("first cycle trigger = %s, want startup", sum.Trigger)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no startup cycle")
	}

	r.Trigger(TriggerManual)
	select {
	case sum := <-r.Results():
		if sum.Trigger != TriggerManual {
			t.Errorf("trigger = %s, want manual", sum.Trigger)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manual trigger produced no cycle")
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	storage := newFakeStorage()
	m, _ := newTestManager(t, storage)

	r := NewRunner(m, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	// Let the startup cycle land, then shut down.
	select {
	case <-r.Results():
	case <-time.After(5 * time.Second):
		t.Fatal("no startup cycle")
	}
	cancel()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerTimerCycles(t *testing.T) {
	storage := newFakeStorage()
	m, _ := newTestManager(t, storage)

	r := NewRunner(m, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case sum := <-r.Results():
			if sum.Trigger == TriggerTimer {
				return
			}
		case <-deadline:
			t.Fatal("no timer cycle observed")
		}
	}
}
