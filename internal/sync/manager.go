// Package sync keeps the local search index consistent with the remote
// library. Conflict policy is strictly last-write-wins by modification
// timestamp; there is no merge and no concurrent-edit detection.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vonshlovens/datashelf/internal/catalog"
	"github.com/vonshlovens/datashelf/internal/creds"
	"github.com/vonshlovens/datashelf/internal/index"
	"github.com/vonshlovens/datashelf/internal/outbox"
	"github.com/vonshlovens/datashelf/internal/remote"
)

// ErrSyncRunning is returned when a cycle is requested while one is
// already in flight. Cycles never overlap.
var ErrSyncRunning = errors.New("a sync cycle is already running")

// Trigger records what started a sync cycle.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerTimer    Trigger = "timer"
	TriggerManual   Trigger = "manual"
	TriggerPostSave Trigger = "post-save"
)

// Action is the per-dataset transfer decision for one cycle. Exactly one
// action is chosen per dataset; never both directions.
type Action int

const (
	ActionNone Action = iota
	ActionPull
	ActionPush
)

func (a Action) String() string {
	switch a {
	case ActionPull:
		return "pull"
	case ActionPush:
		return "push"
	default:
		return "no-op"
	}
}

// Decide compares the local and remote modification times of one dataset.
// Timestamps are compared at whole-second granularity, the resolution
// WebDAV modification times actually carry.
func Decide(localUpdated, remoteModified time.Time) Action {
	l, r := localUpdated.Unix(), remoteModified.Unix()
	switch {
	case r > l:
		return ActionPull
	case l > r:
		return ActionPush
	default:
		return ActionNone
	}
}

// ItemError is a per-dataset failure recorded in the cycle summary.
type ItemError struct {
	ID  string
	Op  string // "pull" or "push"
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

// Summary is the structured outcome of one sync cycle.
type Summary struct {
	Trigger   Trigger
	Pulled    int
	Pushed    int
	Skipped   int
	Failed    int
	Delivered int // outbox items delivered during this cycle
	Errors    []ItemError
	Duration  time.Duration
}

// Manager orchestrates comparison between the remote listing and the
// local index, and drives transfers in the decided direction.
type Manager struct {
	index   *index.Index
	storage remote.Storage
	outbox  *outbox.Outbox
	ignore  []string

	mu sync.Mutex // held for the whole cycle; enforces no-overlap
}

// Options configure a Manager.
type Options struct {
	// IgnorePatterns are doublestar globs matched against remote object
	// names; matches are invisible to sync.
	IgnorePatterns []string
}

// New creates a sync Manager. All collaborators are injected; nothing
// global.
func New(ix *index.Index, storage remote.Storage, ob *outbox.Outbox, opts Options) *Manager {
	return &Manager{
		index:   ix,
		storage: storage,
		outbox:  ob,
		ignore:  opts.IgnorePatterns,
	}
}

// SyncNow runs one full sync cycle: list both sides, decide a direction
// per dataset, execute transfers, and drain the outbox. Per-item failures
// are collected in the summary and never abort the rest of the batch;
// systemic failures (unreachable remote, rejected credentials) abort the
// cycle with a single error.
func (m *Manager) SyncNow(ctx context.Context, trigger Trigger) (*Summary, error) {
	if !m.mu.TryLock() {
		return nil, ErrSyncRunning
	}
	defer m.mu.Unlock()

	start := time.Now()
	sum := &Summary{Trigger: trigger}

	slog.Debug("sync cycle starting", "trigger", trigger)

	// One batched listing call for the whole library.
	remoteEntries, err := m.storage.List(ctx, "")
	if err != nil {
		var credErr *creds.CredentialError
		if errors.As(err, &credErr) {
			return nil, fmt.Errorf("sync aborted: %w", credErr)
		}
		return nil, fmt.Errorf("sync aborted, cannot list remote: %w", err)
	}

	locals, err := m.index.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync aborted, cannot list local index: %w", err)
	}

	remoteByID := make(map[string]remote.Entry)
	for _, e := range remoteEntries {
		if m.ignored(e.Name) {
			continue
		}
		id, ok := catalog.IDFromRemotePath(e.Name)
		if !ok {
			continue
		}
		remoteByID[id] = e
	}

	localByID := make(map[string]*index.Entry, len(locals))
	for _, e := range locals {
		localByID[e.Dataset.ID] = e
	}

	for _, id := range unionIDs(remoteByID, localByID) {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}

		re, haveRemote := remoteByID[id]
		le, haveLocal := localByID[id]

		var action Action
		switch {
		case haveRemote && !haveLocal:
			action = ActionPull
		case !haveRemote && haveLocal:
			action = ActionPush
		default:
			action = Decide(le.UpdatedAt, re.ModTime)
		}

		switch action {
		case ActionPull:
			if err := m.pull(ctx, id, re.ModTime); err != nil {
				sum.Failed++
				sum.Errors = append(sum.Errors, ItemError{ID: id, Op: "pull", Err: err})
			} else {
				sum.Pulled++
			}
		case ActionPush:
			if err := m.push(ctx, le); err != nil {
				sum.Failed++
				sum.Errors = append(sum.Errors, ItemError{ID: id, Op: "push", Err: err})
			} else {
				sum.Pushed++
			}
		default:
			sum.Skipped++
		}
	}

	// Drain previously deferred writes while the remote is reachable.
	if report, err := m.outbox.RetryAll(ctx, m.storage); err == nil {
		sum.Delivered = report.Succeeded
	} else if !errors.Is(err, context.Canceled) {
		slog.Warn("outbox retry pass failed", "error", err)
	}

	sum.Duration = time.Since(start)
	slog.Info("sync cycle completed",
		"trigger", trigger,
		"pulled", sum.Pulled,
		"pushed", sum.Pushed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"duration_ms", sum.Duration.Milliseconds())

	return sum, nil
}

// pull reads one remote record and upserts it locally, stamping the entry
// with the remote modification time so an unchanged record compares equal
// next cycle.
func (m *Manager) pull(ctx context.Context, id string, modTime time.Time) error {
	data, err := m.storage.Read(ctx, catalog.RemotePath(id))
	if err != nil {
		return err
	}

	ds, err := catalog.Decode(data)
	if err != nil {
		return err
	}
	if ds.ID != id {
		return &catalog.ValidationError{ID: id, Field: "id",
			Reason: fmt.Sprintf("does not match record name (got %q)", ds.ID)}
	}

	return m.index.UpsertAt(ctx, ds, modTime)
}

// push writes one local entry to the remote. A failed push lands in the
// outbox rather than failing the cycle; this includes pushes cut short by
// cancellation.
func (m *Manager) push(ctx context.Context, entry *index.Entry) error {
	data, err := catalog.Encode(&entry.Dataset)
	if err != nil {
		return err
	}

	path := catalog.RemotePath(entry.Dataset.ID)
	if err := m.storage.Write(ctx, path, data); err != nil {
		// Enqueue with a fresh context: the write must be durably
		// deferred even when the cycle itself was cancelled.
		if qerr := m.outbox.Enqueue(context.WithoutCancel(ctx), entry.Dataset.ID, path, data, err); qerr != nil {
			return errors.Join(err, qerr)
		}
		return err
	}
	return nil
}

// Save upserts a record locally and pushes it immediately, so local edits
// propagate without waiting for the next timer tick. The push failure
// path is the same as in a cycle: deferred to the outbox.
func (m *Manager) Save(ctx context.Context, ds *catalog.Dataset) error {
	if err := m.index.Upsert(ctx, ds); err != nil {
		return err
	}

	entry, err := m.index.Get(ctx, ds.ID)
	if err != nil {
		return err
	}
	if err := m.push(ctx, entry); err != nil {
		slog.Warn("immediate push failed, deferred to outbox", "dataset", ds.ID, "error", err)
	}
	return nil
}

// Delete removes a dataset from the remote library and the local index.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.storage.Delete(ctx, catalog.RemotePath(id)); err != nil {
		return fmt.Errorf("failed to delete remote record: %w", err)
	}
	if err := m.outbox.Discard(ctx, id); err == nil {
		slog.Debug("dropped pending outbox item for deleted dataset", "dataset", id)
	}
	return m.index.Delete(ctx, id)
}

// Reindex rebuilds the whole local index from the remote library.
// Per-item failures are reported in the returned report, not fatal.
func (m *Manager) Reindex(ctx context.Context, progress func(done, total int)) (*index.ReindexReport, error) {
	entries, err := m.storage.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("reindex aborted, cannot list remote: %w", err)
	}

	var records []index.RawRecord
	var unreadable []index.ReindexError
	for _, e := range entries {
		if m.ignored(e.Name) {
			continue
		}
		id, ok := catalog.IDFromRemotePath(e.Name)
		if !ok {
			continue
		}

		data, err := m.storage.Read(ctx, e.Name)
		if err != nil {
			unreadable = append(unreadable, index.ReindexError{ID: id, Err: err})
			continue
		}
		records = append(records, index.RawRecord{ID: id, Data: data, ModTime: e.ModTime})
	}

	report, err := m.index.ReindexAll(ctx, records, progress)
	if report != nil {
		report.Failed = append(report.Failed, unreadable...)
	}
	return report, err
}

func (m *Manager) ignored(name string) bool {
	for _, pattern := range m.ignore {
		if matched, err := doublestar.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

func unionIDs(remoteByID map[string]remote.Entry, localByID map[string]*index.Entry) []string {
	seen := make(map[string]bool, len(remoteByID)+len(localByID))
	var ids []string
	for id := range remoteByID {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range localByID {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
