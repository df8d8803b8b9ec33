package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedFormat is returned by Export for formats other than json
// and csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"studentId", "registrationStatus", "homeworkStatus", "comment", "lastUpdatedAt"}

// Export serializes every record, ordered by student ID.
func (s *StateStore) Export(format string) ([]byte, error) {
	records := s.Records()

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json export: %w", err)
		}
		return data, nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("encoding csv export: %w", err)
		}
		for _, r := range records {
			updated := ""
			if !r.LastUpdatedAt.IsZero() {
				updated = r.LastUpdatedAt.UTC().Format(time.RFC3339Nano)
			}
			row := []string{r.StudentID, string(r.RegistrationStatus), string(r.HomeworkStatus), r.Comment, updated}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("encoding csv export: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("encoding csv export: %w", err)
		}
		return buf.Bytes(), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}
