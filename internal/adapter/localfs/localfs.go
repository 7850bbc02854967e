// Package localfs implements the storage port on the local filesystem.
package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Backend stores files under a root directory. Rename is atomic on POSIX
// filesystems, which the atomic-write layer relies on.
type Backend struct {
	root string
}

// New creates a Backend rooted at dir, creating it if needed.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Backend{root: dir}, nil
}

// Root returns the backend's root directory.
func (b *Backend) Root() string {
	return b.root
}

func (b *Backend) abs(path string) string {
	return filepath.Join(b.root, filepath.Clean("/"+path))
}

// Read returns the content at path, or ok=false when absent.
func (b *Backend) Read(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.abs(path)) //nolint:gosec // G304: path is rooted by abs
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	return data, true, nil
}

// Write stores data at path, creating parent directories as needed.
func (b *Backend) Write(path string, data []byte) error {
	target := b.abs(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(target, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Rename moves oldPath to newPath. os.Rename replaces an existing target,
// so overwrite=false is checked explicitly first.
func (b *Backend) Rename(oldPath, newPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(b.abs(newPath)); err == nil {
			return fmt.Errorf("rename %s: target %s exists", oldPath, newPath)
		}
	}
	if err := os.Rename(b.abs(oldPath), b.abs(newPath)); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Delete removes the entry at path; absent paths are ignored.
func (b *Backend) Delete(path string) error {
	if err := os.Remove(b.abs(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// List returns the entry names directly under dir.
func (b *Backend) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(b.abs(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// AtomicRename reports true: rename(2) within one filesystem is atomic.
func (b *Backend) AtomicRename() bool {
	return true
}
