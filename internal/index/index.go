package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vonshlovens/datashelf/internal/catalog"
)

// ErrNotFound is returned when a dataset id has no index entry.
var ErrNotFound = errors.New("dataset not found in index")

// StorageError wraps index I/O failures. Callers may retry the operation;
// the index itself is not left in a partial state (all writes are
// transactional across both sub-stores).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "index " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// CorruptionError reports ids present in one sub-store but not the other.
// It recommends a rebuild; it never triggers one automatically.
type CorruptionError struct {
	StoreOnly  []string // in the keyed store, missing from the search table
	SearchOnly []string // in the search table, missing from the keyed store
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("index health check failed: %d entries missing from search table, %d orphaned search entries; reindex recommended",
		len(e.StoreOnly), len(e.SearchOnly))
}

// Entry is an index entry: the payload mirror of a dataset record plus the
// index timestamps.
type Entry struct {
	Dataset   catalog.Dataset
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Index is the local full-text search index: a keyed document store plus a
// derived FTS5 table, kept consistent transactionally. Writes are
// serialized through an internal mutex; reads go straight to SQLite and
// may run concurrently.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// New wraps an existing database handle. The handle is owned by the
// caller; see OpenDB for the expected configuration.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Open opens the index database at path and returns a ready Index.
func Open(path string) (*Index, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// DB exposes the underlying handle so co-located state (the outbox) can
// share the same database file.
func (ix *Index) DB() *sql.DB { return ix.db }

// Close closes the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

// Upsert inserts or replaces the entry for ds.ID. The original creation
// timestamp is preserved; the modification timestamp becomes now.
func (ix *Index) Upsert(ctx context.Context, ds *catalog.Dataset) error {
	return ix.UpsertAt(ctx, ds, time.Now())
}

// UpsertAt is Upsert with an explicit modification timestamp. Sync pulls
// use it to record the remote modification time, so an unchanged dataset
// compares equal on the next cycle.
func (ix *Index) UpsertAt(ctx context.Context, ds *catalog.Dataset, at time.Time) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(ds)
	if err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	dataTypes, _ := json.Marshal(ds.DataTypes)
	projects, _ := json.Marshal(ds.Projects)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (
			id, name, description, source, location, format,
			size_text, size_bytes, data_types, projects, payload,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			source = excluded.source,
			location = excluded.location,
			format = excluded.format,
			size_text = excluded.size_text,
			size_bytes = excluded.size_bytes,
			data_types = excluded.data_types,
			projects = excluded.projects,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`,
		ds.ID, ds.Name, ds.Description, ds.Source, ds.Location, ds.Format,
		ds.Size, ds.SizeBytes(), string(dataTypes), string(projects), string(payload),
		at.Unix(), at.Unix(),
	)
	if err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}

	// Replace the derived search entry inside the same transaction so the
	// two sub-stores can never diverge.
	if _, err := tx.ExecContext(ctx, "DELETE FROM datasets_fts WHERE id = ?", ds.ID); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets_fts (id, name, description, source, format, projects, data_types)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ds.ID, ds.Name, ds.Description, ds.Source, ds.Format,
		strings.Join(ds.Projects, " "), strings.Join(ds.DataTypes, " "),
	)
	if err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	return nil
}

// Delete removes the entry for id from both sub-stores. Deleting an absent
// id is a no-op.
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM datasets WHERE id = ?", id); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM datasets_fts WHERE id = ?", id); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// Get returns the entry for id, or ErrNotFound.
func (ix *Index) Get(ctx context.Context, id string) (*Entry, error) {
	row := ix.db.QueryRowContext(ctx,
		"SELECT payload, created_at, updated_at FROM datasets WHERE id = ?", id)
	return scanEntry(row)
}

// ListAll returns all entries ordered by modification time, newest first.
func (ix *Index) ListAll(ctx context.Context) ([]*Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT payload, created_at, updated_at
		FROM datasets
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return entries, nil
}

// Count returns the number of live entries.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// RawRecord is an undecoded dataset record handed to ReindexAll.
type RawRecord struct {
	ID      string
	Data    []byte
	ModTime time.Time
}

// ReindexError records a single record that could not be indexed.
type ReindexError struct {
	ID  string
	Err error
}

// ReindexReport summarizes a full rebuild.
type ReindexReport struct {
	Indexed int
	Failed  []ReindexError
}

// ReindexAll drops every entry and re-derives the index from the supplied
// records. Malformed records are reported and skipped; they never abort
// the rebuild. progress may be nil.
func (ix *Index) ReindexAll(ctx context.Context, records []RawRecord, progress func(done, total int)) (*ReindexReport, error) {
	ix.mu.Lock()
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		ix.mu.Unlock()
		return nil, &StorageError{Op: "reindex", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM datasets"); err != nil {
		tx.Rollback()
		ix.mu.Unlock()
		return nil, &StorageError{Op: "reindex", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM datasets_fts"); err != nil {
		tx.Rollback()
		ix.mu.Unlock()
		return nil, &StorageError{Op: "reindex", Err: err}
	}
	if err := tx.Commit(); err != nil {
		ix.mu.Unlock()
		return nil, &StorageError{Op: "reindex", Err: err}
	}
	ix.mu.Unlock()

	report := &ReindexReport{}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ds, err := catalog.Decode(rec.Data)
		if err == nil && ds.ID != rec.ID {
			err = &catalog.ValidationError{ID: rec.ID, Field: "id",
				Reason: fmt.Sprintf("does not match record name (got %q)", ds.ID)}
		}
		if err == nil {
			at := rec.ModTime
			if at.IsZero() {
				at = time.Now()
			}
			err = ix.UpsertAt(ctx, ds, at)
		}
		if err != nil {
			report.Failed = append(report.Failed, ReindexError{ID: rec.ID, Err: err})
		} else {
			report.Indexed++
		}

		if progress != nil {
			progress(i+1, len(records))
		}
	}
	return report, nil
}

// Health holds the counts of both sub-stores and any orphaned ids.
type Health struct {
	StoreCount  int
	SearchCount int
	StoreOnly   []string
	SearchOnly  []string
}

// Ok reports whether the two sub-stores contain the same set of ids.
func (h *Health) Ok() bool {
	return len(h.StoreOnly) == 0 && len(h.SearchOnly) == 0
}

// Err returns a CorruptionError when the sub-stores diverge, nil otherwise.
func (h *Health) Err() error {
	if h.Ok() {
		return nil
	}
	return &CorruptionError{StoreOnly: h.StoreOnly, SearchOnly: h.SearchOnly}
}

// CheckHealth verifies the index-health invariant: one search entry per
// keyed entry and vice versa.
func (ix *Index) CheckHealth(ctx context.Context) (*Health, error) {
	h := &Health{}

	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&h.StoreCount); err != nil {
		return nil, &StorageError{Op: "health", Err: err}
	}
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets_fts").Scan(&h.SearchCount); err != nil {
		return nil, &StorageError{Op: "health", Err: err}
	}

	var err error
	h.StoreOnly, err = ix.idDiff(ctx, "SELECT id FROM datasets EXCEPT SELECT id FROM datasets_fts")
	if err != nil {
		return nil, err
	}
	h.SearchOnly, err = ix.idDiff(ctx, "SELECT id FROM datasets_fts EXCEPT SELECT id FROM datasets")
	if err != nil {
		return nil, err
	}

	return h, nil
}

func (ix *Index) idDiff(ctx context.Context, query string) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "health", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "health", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var payload string
	var createdAt, updatedAt int64

	if err := row.Scan(&payload, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get", Err: err}
	}

	entry := &Entry{
		CreatedAt: time.Unix(createdAt, 0),
		UpdatedAt: time.Unix(updatedAt, 0),
	}
	if err := json.Unmarshal([]byte(payload), &entry.Dataset); err != nil {
		return nil, &StorageError{Op: "get", Err: fmt.Errorf("corrupt payload: %w", err)}
	}
	return entry, nil
}
