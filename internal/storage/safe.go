// Package storage provides the crash-safe, race-free persistence layer
// shared by every component that mutates flat-file state.
//
// Writes against the same path are strictly FIFO-serialized behind a
// per-key continuation chain; writes against different paths proceed fully
// in parallel. Content lands via write-to-temp plus atomic rename, so an
// interrupted write leaves the previous file intact and at worst an
// orphaned temp file behind.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/leventea/orchid/internal/port/storage"
)

// tmpSuffix marks sibling temp files produced by atomic writes.
const tmpSuffix = ".tmp"

// SafeStore serializes operations per key over a storage backend.
type SafeStore struct {
	backend storage.Backend

	mu    sync.Mutex
	tails map[string]chan struct{} // per-key completion of the most recent operation
}

// NewSafeStore wraps a backend with per-key serialization and atomic writes.
func NewSafeStore(backend storage.Backend) *SafeStore {
	return &SafeStore{backend: backend, tails: make(map[string]chan struct{})}
}

// withKey runs fn after every previously queued operation on the same key
// has finished. Operations on other keys are unaffected.
func (s *SafeStore) withKey(key string, fn func() error) error {
	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}
	defer func() {
		close(done)
		s.mu.Lock()
		if s.tails[key] == done {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}()

	return fn()
}

// Read returns the current content at path, serialized behind pending
// writes to the same path.
func (s *SafeStore) Read(path string) (data []byte, ok bool, err error) {
	rerr := s.withKey(path, func() error {
		data, ok, err = s.backend.Read(path)
		return err
	})
	if rerr != nil {
		return nil, false, rerr
	}
	return data, ok, nil
}

// Write atomically replaces the content at path.
func (s *SafeStore) Write(path string, data []byte) error {
	return s.withKey(path, func() error {
		return s.atomicWrite(path, data)
	})
}

// atomicWrite writes data to a uniquely named sibling temp file and renames
// it over path. On backends without atomic rename, or when the rename
// fails, it falls back to one direct write; a fallback failure surfaces.
func (s *SafeStore) atomicWrite(path string, data []byte) error {
	if !s.backend.AtomicRename() {
		// Documented degradation: a crash mid-write can corrupt the target.
		return s.backend.Write(path, data)
	}

	tmp := path + "." + uuid.NewString() + tmpSuffix
	if err := s.backend.Write(tmp, data); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err := s.backend.Rename(tmp, path, true); err != nil {
		_ = s.backend.Delete(tmp)
		slog.Warn("atomic rename failed, retrying with direct write",
			"path", path, "error", err)
		if werr := s.backend.Write(path, data); werr != nil {
			return fmt.Errorf("atomic write %s: rename failed (%v) and direct write failed: %w",
				path, err, werr)
		}
	}
	return nil
}

// Append appends text to the file at path under the key lock. The append is
// skipped when the current content already ends with text, which guards
// against duplicate appends from retried operations. The full new content
// is written atomically; a true partial-file append is never performed,
// since it is not crash-safe on every backend.
func (s *SafeStore) Append(path, text string) error {
	return s.withKey(path, func() error {
		current, _, err := s.backend.Read(path)
		if err != nil {
			return err
		}
		if len(text) > 0 && bytes.HasSuffix(current, []byte(text)) {
			return nil
		}
		return s.atomicWrite(path, append(current, text...))
	})
}

// List returns the entry names directly under dir.
func (s *SafeStore) List(dir string) ([]string, error) {
	return s.backend.List(dir)
}

// WriteJSON marshals v and writes it atomically to path.
func (s *SafeStore) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return s.Write(path, data)
}

// ReadJSON reads and unmarshals the content at path into v.
// ok is false when the path is absent.
func (s *SafeStore) ReadJSON(path string, v any) (bool, error) {
	data, ok, err := s.Read(path)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return true, nil
}

// CleanupTemp removes orphaned temp files under dir left by interrupted
// atomic writes. Best-effort: individual failures are logged and skipped.
func (s *SafeStore) CleanupTemp(dir string) int {
	names, err := s.backend.List(dir)
	if err != nil {
		slog.Warn("temp cleanup list failed", "dir", dir, "error", err)
		return 0
	}
	removed := 0
	for _, name := range names {
		if !strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		path := name
		if dir != "" && dir != "." {
			path = dir + "/" + name
		}
		if err := s.backend.Delete(path); err != nil {
			slog.Warn("temp cleanup failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("removed orphaned temp files", "dir", dir, "count", removed)
	}
	return removed
}
