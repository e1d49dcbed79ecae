package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vonshlovens/datashelf/internal/index"
	"github.com/vonshlovens/datashelf/internal/remote"
)

// fakeStorage fails the first failures writes to each path, then succeeds.
type fakeStorage struct {
	mu       sync.Mutex
	failures int
	writeErr error // returned while failures remain; defaults to a NetworkError
	attempts map[string]int
	objects  map[string][]byte
}

func newFakeStorage(failures int) *fakeStorage {
	return &fakeStorage{
		failures: failures,
		attempts: map[string]int{},
		objects:  map[string][]byte{},
	}
}

func (f *fakeStorage) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	return nil, nil
}

func (f *fakeStorage) Read(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return data, nil
}

func (f *fakeStorage) Write(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[name]++
	if f.attempts[name] <= f.failures {
		if f.writeErr != nil {
			return f.writeErr
		}
		return &remote.NetworkError{Op: "write", Path: name, Err: errors.New("connection refused")}
	}
	f.objects[name] = data
	return nil
}

func (f *fakeStorage) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, name)
	return nil
}

func newTestOutbox(t *testing.T, retryCap int) *Outbox {
	t.Helper()
	db, err := index.OpenDB(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, retryCap, time.Second)
}

func TestEnqueueReplacesAndResetsBudget(t *testing.T) {
	ob := newTestOutbox(t, 5)
	ctx := context.Background()

	if err := ob.Enqueue(ctx, "census", "census.yaml", []byte("v1"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Burn some retries.
	storage := newFakeStorage(100)
	if _, err := ob.RetryAll(ctx, storage); err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}

	items, err := ob.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != 1 || items[0].RetryCount != 1 {
		t.Fatalf("after one failed pass: %+v", items)
	}

	// Re-enqueueing the same dataset replaces content and resets the budget.
	if err := ob.Enqueue(ctx, "census", "census.yaml", []byte("v2"), errors.New("still down")); err != nil {
		t.Fatalf("second Enqueue failed: %v", err)
	}
	items, err = ob.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue holds %d items, want 1 per dataset", len(items))
	}
	if string(items[0].Content) != "v2" || items[0].RetryCount != 0 {
		t.Errorf("item = %+v, want replaced content and zero retries", items[0])
	}
}

func TestRetryAllConverges(t *testing.T) {
	ob := newTestOutbox(t, 10)
	ob.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	storage := newFakeStorage(2)
	if err := ob.Enqueue(ctx, "flaky", "flaky.yaml", []byte("data"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	clock := time.Unix(1700000000, 0)
	delivered := false
	for pass := 0; pass < 5 && !delivered; pass++ {
		report, err := ob.RetryAll(ctx, storage)
		if err != nil {
			t.Fatalf("RetryAll failed: %v", err)
		}
		if report.Succeeded > 0 {
			delivered = true
		}
		clock = clock.Add(2 * time.Hour) // step past any backoff window
		ob.now = func() time.Time { return clock }
	}

	if !delivered {
		t.Fatal("item never delivered despite storage recovering")
	}
	if string(storage.objects["flaky.yaml"]) != "data" {
		t.Error("delivered content missing from storage")
	}
	items, err := ob.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("queue not empty after delivery: %+v", items)
	}
}

func TestBackoffGatesRetries(t *testing.T) {
	ob := newTestOutbox(t, 10)
	clock := time.Unix(1700000000, 0)
	ob.now = func() time.Time { return clock }
	ctx := context.Background()

	storage := newFakeStorage(100)
	if err := ob.Enqueue(ctx, "d1", "d1.yaml", []byte("x"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	report, err := ob.RetryAll(ctx, storage)
	if err != nil || report.Attempted != 1 {
		t.Fatalf("first pass: %+v, %v", report, err)
	}

	// Immediately after a failure the item is inside its backoff window.
	report, err = ob.RetryAll(ctx, storage)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if report.Attempted != 0 {
		t.Errorf("item retried inside backoff window: %+v", report)
	}

	clock = clock.Add(time.Minute)
	report, err = ob.RetryAll(ctx, storage)
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if report.Attempted != 1 {
		t.Errorf("item not retried after backoff elapsed: %+v", report)
	}
}

func TestRetryNowIgnoresBackoff(t *testing.T) {
	ob := newTestOutbox(t, 10)
	clock := time.Unix(1700000000, 0)
	ob.now = func() time.Time { return clock }
	ctx := context.Background()

	storage := newFakeStorage(1)
	if err := ob.Enqueue(ctx, "fixed", "fixed.yaml", []byte("x"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// One failed pass puts the item inside its backoff window.
	if _, err := ob.RetryAll(ctx, storage); err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}
	report, err := ob.RetryAll(ctx, storage)
	if err != nil || report.Attempted != 0 {
		t.Fatalf("automatic pass inside window: %+v, %v", report, err)
	}

	// The user-driven retry delivers without waiting it out.
	report, err = ob.RetryNow(ctx, storage)
	if err != nil {
		t.Fatalf("RetryNow failed: %v", err)
	}
	if report.Attempted != 1 || report.Succeeded != 1 {
		t.Errorf("RetryNow report = %+v, want one delivery", report)
	}
	if string(storage.objects["fixed.yaml"]) != "x" {
		t.Error("delivered content missing from storage")
	}

	// Terminal items still need an explicit discard.
	if err := ob.Enqueue(ctx, "doomed", "doomed.yaml", []byte("y"),
		errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	failing := newFakeStorage(100)
	failing.writeErr = &remote.PermissionError{Op: "write", Path: "doomed.yaml", Err: errors.New("403")}
	if _, err := ob.RetryNow(ctx, failing); err != nil {
		t.Fatalf("RetryNow failed: %v", err)
	}
	report, err = ob.RetryNow(ctx, failing)
	if err != nil || report.Attempted != 0 {
		t.Errorf("terminal item retried by RetryNow: %+v, %v", report, err)
	}
}

func TestRetryCapMarksTerminal(t *testing.T) {
	ob := newTestOutbox(t, 2)
	clock := time.Unix(1700000000, 0)
	ob.now = func() time.Time { return clock }
	ctx := context.Background()

	storage := newFakeStorage(100)
	if err := ob.Enqueue(ctx, "doomed", "doomed.yaml", []byte("x"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for pass := 0; pass < 4; pass++ {
		if _, err := ob.RetryAll(ctx, storage); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		clock = clock.Add(2 * time.Hour)
	}

	items, err := ob.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != 1 || !items[0].Terminal {
		t.Fatalf("item should be terminal and retained: %+v", items)
	}
	if items[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want cap of 2", items[0].RetryCount)
	}

	pending, terminal, err := ob.Count(ctx)
	if err != nil || pending != 0 || terminal != 1 {
		t.Errorf("Count = %d pending, %d terminal, %v", pending, terminal, err)
	}

	// Terminal items are never retried automatically.
	report, err := ob.RetryAll(ctx, storage)
	if err != nil || report.Attempted != 0 {
		t.Errorf("terminal item retried: %+v, %v", report, err)
	}

	// Discard is the only exit.
	if err := ob.Discard(ctx, "doomed"); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, terminal, _ := ob.Count(ctx); terminal != 0 {
		t.Error("terminal item survived discard")
	}
}

func TestPermissionErrorIsImmediatelyTerminal(t *testing.T) {
	ob := newTestOutbox(t, 10)
	ctx := context.Background()

	storage := newFakeStorage(100)
	storage.writeErr = &remote.PermissionError{Op: "write", Path: "p.yaml", Err: errors.New("403")}

	if err := ob.Enqueue(ctx, "forbidden", "p.yaml", []byte("x"), errors.New("down")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	report, err := ob.RetryAll(ctx, storage)
	if err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}
	if report.Terminal != 1 {
		t.Errorf("report = %+v, want immediate terminal", report)
	}

	items, _ := ob.ListPending(ctx)
	if len(items) != 1 || !items[0].Terminal || items[0].RetryCount != 1 {
		t.Errorf("item = %+v, want terminal after one attempt", items)
	}
}

func TestDiscardMissing(t *testing.T) {
	ob := newTestOutbox(t, 10)
	if err := ob.Discard(context.Background(), "no-such"); err == nil {
		t.Error("Discard of absent item should error")
	}
}

func TestBackoffDoublingAndCap(t *testing.T) {
	ob := New(nil, 10, time.Second)

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{30, time.Hour},
	}
	for _, tt := range tests {
		if got := ob.backoff(tt.retries); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}
