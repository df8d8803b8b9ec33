// Package store holds the two materialized snapshots of the hub: the
// versioned roster cache and the per-student status map. Each store is the
// sole owner of its file and replaces it atomically on every write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PersistenceError reports a failed write of a store file. The store keeps
// its last persisted state when one is returned.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// writeJSONAtomic writes v to a temporary file next to path, syncs it and
// renames it over path, so readers see either the old or the new content.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Path: path, Op: "marshal", Err: err}
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &PersistenceError{Path: path, Op: "create temp", Err: err}
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return &PersistenceError{Path: path, Op: "write temp", Err: err}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return &PersistenceError{Path: path, Op: "sync temp", Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return &PersistenceError{Path: path, Op: "close temp", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &PersistenceError{Path: path, Op: "rename", Err: err}
	}

	// Make the rename itself durable.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched and is
// not an error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", path, err)
	}
	return true, nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	return nil
}
