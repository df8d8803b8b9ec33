// Package validate normalizes inbound student records and roster rows
// before they reach the stores.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abdelmounim-dev/scanhub/domain"
)

// ValidationError reports an inbound record the hub refuses to store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// inboundRecord mirrors the student_record payload. Fields are decoded
// loosely so a wrongly typed status normalizes to unknown instead of
// failing the whole record.
type inboundRecord struct {
	StudentID          json.RawMessage `json:"studentId"`
	RegistrationStatus json.RawMessage `json:"registrationStatus"`
	HomeworkStatus     json.RawMessage `json:"homeworkStatus"`
	Comment            json.RawMessage `json:"comment"`
	Source             json.RawMessage `json:"source"`
}

// Record validates a student_record payload. Only fields present in raw
// are set on the returned patch.
func Record(raw json.RawMessage) (domain.RecordPatch, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.RecordPatch{}, &ValidationError{Reason: "invalid student record format"}
	}

	var in inboundRecord
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return domain.RecordPatch{}, &ValidationError{Reason: "invalid student record format"}
	}

	id, err := StudentID(in.StudentID)
	if err != nil {
		return domain.RecordPatch{}, err
	}

	patch := domain.RecordPatch{StudentID: id}
	if present(in.RegistrationStatus) {
		s := domain.NormalizeRegistration(looseString(in.RegistrationStatus))
		patch.RegistrationStatus = &s
	}
	if present(in.HomeworkStatus) {
		s := domain.NormalizeHomework(looseString(in.HomeworkStatus))
		patch.HomeworkStatus = &s
	}
	if present(in.Comment) {
		c := strings.TrimSpace(looseString(in.Comment))
		patch.Comment = &c
	}
	if present(in.Source) {
		patch.Source = append(json.RawMessage(nil), in.Source...)
	}
	return patch, nil
}

// StudentID requires a JSON string that is non-empty after trimming.
func StudentID(raw json.RawMessage) (string, error) {
	var id string
	if !present(raw) || json.Unmarshal(raw, &id) != nil {
		return "", &ValidationError{Field: "studentId", Reason: "student ID is required and must be a string"}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &ValidationError{Field: "studentId", Reason: "student ID cannot be empty"}
	}
	return id, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// looseString returns the string form of a JSON string, number or bool,
// and "" for anything else.
func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch v := v.(type) {
	case float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

// column aliases, matched case-insensitively after trimming.
var (
	idColumns           = []string{"student id", "id", "studentid"}
	nameColumns         = []string{"name", "full name", "fullname"}
	gradeColumns        = []string{"grade"}
	classColumns        = []string{"class", "class name", "classname"}
	registrationColumns = []string{"registration", "registration status", "registrationstatus"}
	homeworkColumns     = []string{"homework", "homework status", "homeworkstatus"}
)

// RosterRow shapes one spreadsheet row, keyed by header, into a roster
// row. A row without a student ID is a ValidationError.
func RosterRow(row map[string]string, now time.Time) (domain.RosterRow, error) {
	normalized := make(map[string]string, len(row))
	for k, v := range row {
		normalized[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	id := pick(normalized, idColumns)
	if id == "" {
		return domain.RosterRow{}, &ValidationError{Field: "studentId", Reason: "student ID cannot be empty"}
	}

	return domain.RosterRow{
		StudentID:          id,
		FullName:           optional(pick(normalized, nameColumns)),
		Grade:              optional(pick(normalized, gradeColumns)),
		ClassName:          optional(pick(normalized, classColumns)),
		RegistrationStatus: domain.NormalizeRegistration(pick(normalized, registrationColumns)),
		HomeworkStatus:     domain.NormalizeHomework(pick(normalized, homeworkColumns)),
		LastUpdatedAt:      now,
	}, nil
}

func pick(row map[string]string, names []string) string {
	for _, n := range names {
		if v, ok := row[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
