// Package storage defines the port interface for the flat-file state store.
package storage

// Backend is the port interface for a file-like store. The core is agnostic
// to whether this is a local filesystem, a virtual filesystem, or a remote
// store, provided rename is available (with a documented direct-write
// fallback otherwise).
type Backend interface {
	// Read returns the content at path. ok is false when the path is absent.
	Read(path string) (data []byte, ok bool, err error)

	// Write stores data at path, creating parent directories as needed.
	Write(path string, data []byte) error

	// Rename moves oldPath to newPath. With overwrite, an existing newPath
	// is replaced.
	Rename(oldPath, newPath string, overwrite bool) error

	// Delete removes the entry at path. Deleting an absent path is not an error.
	Delete(path string) error

	// List returns the entry names directly under dir. An absent dir yields
	// an empty list.
	List(dir string) ([]string, error)

	// AtomicRename reports whether Rename is atomic on this backend.
	// When false, writers degrade to direct writes, which are less safe
	// across a crash.
	AtomicRename() bool
}
