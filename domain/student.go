package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// RegistrationStatus is the registration state captured at first scan.
type RegistrationStatus string

const (
	Registered          RegistrationStatus = "registered"
	NotRegistered       RegistrationStatus = "not_registered"
	RegistrationUnknown RegistrationStatus = "unknown"
)

// HomeworkStatus is the homework state captured at first scan.
type HomeworkStatus string

const (
	HomeworkDone    HomeworkStatus = "done"
	HomeworkNotDone HomeworkStatus = "not_done"
	HomeworkUnknown HomeworkStatus = "unknown"
)

// NormalizeRegistration lower-cases and trims s. Values outside the known
// set become RegistrationUnknown; this never fails.
func NormalizeRegistration(s string) RegistrationStatus {
	switch v := RegistrationStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case Registered, NotRegistered, RegistrationUnknown:
		return v
	}
	return RegistrationUnknown
}

// NormalizeHomework is the HomeworkStatus counterpart of NormalizeRegistration.
func NormalizeHomework(s string) HomeworkStatus {
	switch v := HomeworkStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case HomeworkDone, HomeworkNotDone, HomeworkUnknown:
		return v
	}
	return HomeworkUnknown
}

// StudentRecord is the latest merged status for one student.
type StudentRecord struct {
	StudentID          string             `json:"studentId"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	HomeworkStatus     HomeworkStatus     `json:"homeworkStatus"`
	Comment            string             `json:"comment"`
	Source             json.RawMessage    `json:"source,omitempty"`
	LastUpdatedAt      time.Time          `json:"lastUpdatedAt"`
}

// RecordPatch carries the fields of one inbound student_record. Nil fields
// were absent from the payload and leave the stored value untouched.
type RecordPatch struct {
	StudentID          string
	RegistrationStatus *RegistrationStatus
	HomeworkStatus     *HomeworkStatus
	Comment            *string
	Source             json.RawMessage
}

// NewStudentRecord returns the record a first patch for id is applied to.
func NewStudentRecord(id string) StudentRecord {
	return StudentRecord{
		StudentID:          id,
		RegistrationStatus: RegistrationUnknown,
		HomeworkStatus:     HomeworkUnknown,
	}
}

// Apply overlays the fields set in p onto base and stamps LastUpdatedAt.
func (p RecordPatch) Apply(base StudentRecord, now time.Time) StudentRecord {
	out := base
	out.StudentID = p.StudentID
	if p.RegistrationStatus != nil {
		out.RegistrationStatus = *p.RegistrationStatus
	}
	if p.HomeworkStatus != nil {
		out.HomeworkStatus = *p.HomeworkStatus
	}
	if p.Comment != nil {
		out.Comment = *p.Comment
	}
	if len(p.Source) > 0 {
		out.Source = append(json.RawMessage(nil), p.Source...)
	}
	out.LastUpdatedAt = now
	return out
}

// RosterRow is one row of the roster shared with first-scan nodes.
type RosterRow struct {
	StudentID          string             `json:"studentId"`
	FullName           *string            `json:"fullName"`
	Grade              *string            `json:"grade"`
	ClassName          *string            `json:"className"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus"`
	HomeworkStatus     HomeworkStatus     `json:"homeworkStatus"`
	LastUpdatedAt      time.Time          `json:"lastUpdatedAt"`
}

// Snapshot is the versioned roster.
type Snapshot struct {
	Version  int64       `json:"version"`
	Students []RosterRow `json:"students"`
}

// Clone returns a copy whose Students slice is not shared with s.
func (s Snapshot) Clone() Snapshot {
	rows := make([]RosterRow, len(s.Students))
	copy(rows, s.Students)
	return Snapshot{Version: s.Version, Students: rows}
}
