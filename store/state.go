package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/abdelmounim-dev/scanhub/domain"
)

// StateStore holds the latest StudentRecord per student ID.
//
// Merge, Reset and the write of the whole map are one critical section;
// two merges never interleave their read-modify-write.
type StateStore struct {
	mu      sync.Mutex
	path    string
	records map[string]domain.StudentRecord
	now     func() time.Time
	logger  *slog.Logger
}

// OpenState loads the status map persisted at path.
func OpenState(path string, logger *slog.Logger) (*StateStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	s := &StateStore{
		path:    path,
		records: make(map[string]domain.StudentRecord),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}

	records := make(map[string]domain.StudentRecord)
	ok, err := readJSON(path, &records)
	switch {
	case err != nil:
		logger.Warn("Ignoring unreadable state file", "path", path, "error", err)
	case ok:
		s.records = records
	}
	return s, nil
}

// SetClock replaces the time source used to stamp lastUpdatedAt.
func (s *StateStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// All returns a copy of the status map.
func (s *StateStore) All() map[string]domain.StudentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.StudentRecord, len(s.records))
	for id, r := range s.records {
		out[id] = r
	}
	return out
}

// Records returns every record ordered by student ID.
func (s *StateStore) Records() []domain.StudentRecord {
	all := s.All()
	out := make([]domain.StudentRecord, 0, len(all))
	for _, r := range all {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Get returns the record for id.
func (s *StateStore) Get(id string) (domain.StudentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Merge overlays patch onto the stored record for patch.StudentID,
// persists the whole map and returns the merged record.
func (s *StateStore) Merge(patch domain.RecordPatch) (domain.StudentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.records[patch.StudentID]
	if !ok {
		base = domain.NewStudentRecord(patch.StudentID)
	}
	merged := patch.Apply(base, s.now())

	next := make(map[string]domain.StudentRecord, len(s.records)+1)
	for id, r := range s.records {
		next[id] = r
	}
	next[patch.StudentID] = merged

	if err := writeJSONAtomic(s.path, next); err != nil {
		return domain.StudentRecord{}, err
	}
	s.records = next
	return merged, nil
}

// Reset persists an empty map.
func (s *StateStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := make(map[string]domain.StudentRecord)
	if err := writeJSONAtomic(s.path, empty); err != nil {
		return err
	}
	s.records = empty
	return nil
}
