// Package remote implements the storage backends holding the
// authoritative dataset records. The backend is chosen once at startup;
// all paths are relative to the configured library root.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a remote object does not exist.
var ErrNotFound = errors.New("remote object not found")

// NetworkError marks a transient failure: timeouts, connection errors,
// server-side 5xx. Reads are retried on it; writes go to the outbox.
type NetworkError struct {
	Op   string
	Path string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote %s %q: %v", e.Op, e.Path, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// PermissionError marks a terminal rejection by the remote (403). It is
// surfaced, never retried.
type PermissionError struct {
	Op   string
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("remote %s %q: permission denied: %v", e.Op, e.Path, e.Err)
}
func (e *PermissionError) Unwrap() error { return e.Err }

// Entry is one object in a remote listing.
type Entry struct {
	Name    string
	ModTime time.Time
	Size    int64
}

// Storage is the four-method contract against the remote library.
// Listing and reads may be retried internally on transient errors; Write
// and Delete never are, so a retried write cannot race its own first
// attempt. Retrying writes is the outbox's job.
type Storage interface {
	List(ctx context.Context, dir string) ([]Entry, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// CheckWrite verifies write permission by creating and deleting a
// throwaway object. Used by setup and diagnostics, never during sync.
func CheckWrite(ctx context.Context, s Storage, dir string) error {
	name := ".datashelf-write-test-" + uuid.NewString()
	if dir != "" {
		name = dir + "/" + name
	}

	if err := s.Write(ctx, name, []byte("write test\n")); err != nil {
		return fmt.Errorf("write test failed: %w", err)
	}
	if err := s.Delete(ctx, name); err != nil {
		return fmt.Errorf("write test cleanup failed: %w", err)
	}
	return nil
}
