package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Filesystem is a directory-backed Storage implementation. It serves
// offline setups (a mounted network share) and tests.
type Filesystem struct {
	root string
}

// NewFilesystem creates a filesystem storage rooted at root/library.
func NewFilesystem(root, library string) (*Filesystem, error) {
	dir := filepath.Join(root, library)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create library directory: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirents, err := os.ReadDir(filepath.Join(f.root, filepath.FromSlash(dir)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list %q: %w", dir, ErrNotFound)
		}
		return nil, &NetworkError{Op: "list", Path: dir, Err: err}
	}

	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return entries, nil
}

func (f *Filesystem) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.abs(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %q: %w", name, ErrNotFound)
		}
		return nil, &NetworkError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}

func (f *Filesystem) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := f.abs(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &NetworkError{Op: "write", Path: name, Err: err}
	}

	// Write through a temp file so a crash cannot leave a half-written
	// record visible to other readers of the share.
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &NetworkError{Op: "write", Path: name, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &NetworkError{Op: "write", Path: name, Err: err}
	}
	return nil
}

func (f *Filesystem) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(f.abs(name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &NetworkError{Op: "delete", Path: name, Err: err}
	}
	return nil
}

func (f *Filesystem) abs(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}
