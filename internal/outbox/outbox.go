// Package outbox is the durable retry queue for writes that failed
// against the remote store. It shares the local index database, so a
// failed push survives restarts; items leave the queue only on confirmed
// remote success or explicit discard.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/vonshlovens/datashelf/internal/remote"
)

// DefaultRetryCap bounds automatic retries per item.
const DefaultRetryCap = 10

// maxBackoff caps the doubling delay between automatic retries.
const maxBackoff = time.Hour

// Item is one deferred write.
type Item struct {
	DatasetID   string
	Path        string
	Content     []byte
	EnqueuedAt  time.Time
	RetryCount  int
	NextRetryAt time.Time
	LastError   string
	Terminal    bool
}

// RetryReport summarizes one RetryAll pass.
type RetryReport struct {
	Attempted int
	Succeeded int
	Failed    int
	Terminal  int // items newly marked terminal this pass
}

// Outbox manages the deferred-write queue.
type Outbox struct {
	db        *sql.DB
	retryCap  int
	baseDelay time.Duration
	now       func() time.Time
}

// New creates an Outbox over the shared index database. retryCap and
// baseDelay fall back to defaults when zero.
func New(db *sql.DB, retryCap int, baseDelay time.Duration) *Outbox {
	if retryCap <= 0 {
		retryCap = DefaultRetryCap
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Outbox{
		db:        db,
		retryCap:  retryCap,
		baseDelay: baseDelay,
		now:       time.Now,
	}
}

// Enqueue records a failed write for later retry. An existing item for
// the same dataset id is replaced wholesale: the queue keeps only the
// most recent content, and a fresh write earns a fresh retry budget.
func (o *Outbox) Enqueue(ctx context.Context, datasetID, path string, content []byte, cause error) error {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	now := o.now()

	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (dataset_id, path, content, enqueued_at, retry_count, next_retry_at, last_error, terminal)
		VALUES (?, ?, ?, ?, 0, ?, ?, 0)
		ON CONFLICT (dataset_id) DO UPDATE SET
			path = excluded.path,
			content = excluded.content,
			enqueued_at = excluded.enqueued_at,
			retry_count = 0,
			next_retry_at = excluded.next_retry_at,
			last_error = excluded.last_error,
			terminal = 0
	`, datasetID, path, content, now.Unix(), now.Unix(), lastErr)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox item: %w", err)
	}

	slog.Info("write deferred to outbox", "dataset", datasetID, "error", lastErr)
	return nil
}

// RetryAll attempts every due pending item against the remote store.
// Successes leave the queue; failures back off exponentially; items
// hitting the retry cap or a permission rejection are marked terminal and
// retained for the user to discard.
func (o *Outbox) RetryAll(ctx context.Context, storage remote.Storage) (*RetryReport, error) {
	items, err := o.pending(ctx, true)
	if err != nil {
		return nil, err
	}
	return o.retryItems(ctx, storage, items)
}

// RetryNow attempts every pending item, ignoring backoff windows. Backs
// the user-driven retry command: someone who just fixed the failure cause
// should not have to wait out the automatic schedule.
func (o *Outbox) RetryNow(ctx context.Context, storage remote.Storage) (*RetryReport, error) {
	items, err := o.pending(ctx, false)
	if err != nil {
		return nil, err
	}
	return o.retryItems(ctx, storage, items)
}

func (o *Outbox) retryItems(ctx context.Context, storage remote.Storage, items []Item) (*RetryReport, error) {
	report := &RetryReport{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		err := storage.Write(ctx, item.Path, item.Content)
		if err == nil {
			if err := o.remove(ctx, item.DatasetID); err != nil {
				return report, err
			}
			report.Succeeded++
			slog.Info("outbox item delivered", "dataset", item.DatasetID, "attempts", item.RetryCount+1)
			continue
		}

		report.Failed++
		item.RetryCount++
		terminal := item.RetryCount >= o.retryCap

		var permErr *remote.PermissionError
		if errors.As(err, &permErr) {
			terminal = true
		}

		if terminal {
			report.Terminal++
			slog.Error("outbox item exhausted, kept for manual discard",
				"dataset", item.DatasetID, "attempts", item.RetryCount, "error", err)
		}

		if uerr := o.recordFailure(ctx, item, err, terminal); uerr != nil {
			return report, uerr
		}
	}
	return report, nil
}

// ListPending returns a read-only snapshot of the queue, terminal items
// included, oldest first.
func (o *Outbox) ListPending(ctx context.Context) ([]Item, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT dataset_id, path, content, enqueued_at, retry_count, next_retry_at, last_error, terminal
		FROM outbox
		ORDER BY enqueued_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Discard removes an item regardless of state. This is the only way a
// terminal item leaves the queue.
func (o *Outbox) Discard(ctx context.Context, datasetID string) error {
	res, err := o.db.ExecContext(ctx, "DELETE FROM outbox WHERE dataset_id = ?", datasetID)
	if err != nil {
		return fmt.Errorf("failed to discard outbox item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no outbox item for dataset %q", datasetID)
	}
	return nil
}

// Count returns pending (retryable) and terminal item counts.
func (o *Outbox) Count(ctx context.Context) (pending, terminal int, err error) {
	err = o.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE terminal = 0),
			COUNT(*) FILTER (WHERE terminal = 1)
		FROM outbox
	`).Scan(&pending, &terminal)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return pending, terminal, nil
}

// pending returns non-terminal items, optionally only those whose
// backoff window has elapsed.
func (o *Outbox) pending(ctx context.Context, dueOnly bool) ([]Item, error) {
	cutoff := int64(math.MaxInt64)
	if dueOnly {
		cutoff = o.now().Unix()
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT dataset_id, path, content, enqueued_at, retry_count, next_retry_at, last_error, terminal
		FROM outbox
		WHERE terminal = 0 AND next_retry_at <= ?
		ORDER BY enqueued_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (o *Outbox) remove(ctx context.Context, datasetID string) error {
	if _, err := o.db.ExecContext(ctx, "DELETE FROM outbox WHERE dataset_id = ?", datasetID); err != nil {
		return fmt.Errorf("failed to remove outbox item: %w", err)
	}
	return nil
}

func (o *Outbox) recordFailure(ctx context.Context, item Item, cause error, terminal bool) error {
	next := o.now().Add(o.backoff(item.RetryCount))
	t := 0
	if terminal {
		t = 1
	}

	_, err := o.db.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = ?, next_retry_at = ?, last_error = ?, terminal = ?
		WHERE dataset_id = ?
	`, item.RetryCount, next.Unix(), cause.Error(), t, item.DatasetID)
	if err != nil {
		return fmt.Errorf("failed to update outbox item: %w", err)
	}
	return nil
}

// backoff doubles the base delay per completed attempt, capped.
func (o *Outbox) backoff(retryCount int) time.Duration {
	d := o.baseDelay
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func scanItem(rows *sql.Rows) (Item, error) {
	var item Item
	var enqueued, next int64
	var terminal int

	if err := rows.Scan(&item.DatasetID, &item.Path, &item.Content,
		&enqueued, &item.RetryCount, &next, &item.LastError, &terminal); err != nil {
		return Item{}, fmt.Errorf("failed to scan outbox item: %w", err)
	}

	item.EnqueuedAt = time.Unix(enqueued, 0)
	item.NextRetryAt = time.Unix(next, 0)
	item.Terminal = terminal == 1
	return item, nil
}
