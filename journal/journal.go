// Package journal is the append-only audit trail of hub events. It is
// never replayed; the stores are maintained independently.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types written by the hub.
const (
	TypeStudentRecord = "student_record"
	TypeCacheUpdate   = "cache_update"
)

// maxLine bounds a single journal line. Longer lines are skipped by Query.
const maxLine = 16 << 20

// Event is one immutable journal entry.
type Event struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	TS           time.Time       `json:"ts"`
	SourceNodeID string          `json:"sourceNodeId,omitempty"`
	SourceName   string          `json:"sourceName,omitempty"`
	SourceRole   string          `json:"sourceRole,omitempty"`
}

// Journal appends events as JSON lines to a single file.
type Journal struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// Open prepares the journal at path, creating the file if needed.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	f.Close()
	return &Journal{path: path, logger: logger}, nil
}

// Path returns the journal file location.
func (j *Journal) Path() string { return j.path }

// Append writes e as one line.
func (j *Journal) Append(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending event: %w", err)
	}
	return f.Close()
}

// Query returns events with ts >= since in file order. A zero since
// returns every event. Lines that do not parse are logged and skipped.
func (j *Journal) Query(since time.Time) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	events := []Event{}
	r := bufio.NewReaderSize(f, 64*1024)
	for lineNo := 1; ; lineNo++ {
		line, oversize, err := nextLine(r, maxLine)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading journal: %w", err)
		}
		eof := err != nil
		if eof && len(line) == 0 && !oversize {
			break
		}

		switch {
		case oversize:
			j.logger.Error("Skipping oversized event line", "line", lineNo, "limit", maxLine)
		case len(line) == 0:
		default:
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				j.logger.Error("Failed to parse event line", "line", lineNo, "error", err)
				break
			}
			if since.IsZero() || !e.TS.Before(since) {
				events = append(events, e)
			}
		}
		if eof {
			break
		}
	}
	return events, nil
}

// nextLine reads one line without its terminator. A line longer than limit
// is consumed without being kept and reported as oversize.
func nextLine(r *bufio.Reader, limit int) (line []byte, oversize bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if !oversize {
			if len(line)+len(chunk) > limit+1 {
				oversize, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
		return line, oversize, rerr
	}
}

// Clear truncates the journal.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.Truncate(j.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("truncating journal: %w", err)
	}
	return nil
}
