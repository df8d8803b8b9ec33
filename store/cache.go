package store

import (
	"log/slog"
	"sync"

	"github.com/abdelmounim-dev/scanhub/domain"
)

// CacheStore holds the current roster snapshot and its version counter.
type CacheStore struct {
	mu      sync.Mutex
	path    string
	current domain.Snapshot
	logger  *slog.Logger
}

// OpenCache loads the snapshot persisted at path. A missing file yields an
// empty snapshot at version 0; an unreadable one is logged and treated the
// same way, matching the tolerant load of the roster file.
func OpenCache(path string, logger *slog.Logger) (*CacheStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	c := &CacheStore{
		path:    path,
		current: domain.Snapshot{Students: []domain.RosterRow{}},
		logger:  logger,
	}

	var snap domain.Snapshot
	ok, err := readJSON(path, &snap)
	switch {
	case err != nil:
		logger.Warn("Ignoring unreadable cache file", "path", path, "error", err)
	case ok:
		if snap.Students == nil {
			snap.Students = []domain.RosterRow{}
		}
		c.current = snap
	}
	return c, nil
}

// Current returns a copy of the snapshot.
func (c *CacheStore) Current() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Replace swaps in students as the new roster at version+1.
func (c *CacheStore) Replace(students []domain.RosterRow) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := domain.Snapshot{Version: c.current.Version + 1, Students: students}.Clone()
	if err := writeJSONAtomic(c.path, next); err != nil {
		return domain.Snapshot{}, err
	}
	c.current = next
	return next.Clone(), nil
}

// Reset forces the snapshot back to version 0 with no students.
func (c *CacheStore) Reset() (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	empty := domain.Snapshot{Students: []domain.RosterRow{}}
	if err := writeJSONAtomic(c.path, empty); err != nil {
		return domain.Snapshot{}, err
	}
	c.current = empty
	return empty.Clone(), nil
}
