package roster

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/abdelmounim-dev/scanhub/domain"
)

const (
	StudentsSheet   = "Students"
	StatisticsSheet = "Statistics"
)

var studentColumns = []any{"studentId", "registrationStatus", "homeworkStatus", "comment", "lastUpdatedAt"}

// Stats counts records per status.
type Stats struct {
	Total               int
	Registered          int
	NotRegistered       int
	UnknownRegistration int
	HomeworkDone        int
	HomeworkNotDone     int
	UnknownHomework     int
}

// Summarize computes Stats over records.
func Summarize(records []domain.StudentRecord) Stats {
	s := Stats{Total: len(records)}
	for _, r := range records {
		switch r.RegistrationStatus {
		case domain.Registered:
			s.Registered++
		case domain.NotRegistered:
			s.NotRegistered++
		default:
			s.UnknownRegistration++
		}
		switch r.HomeworkStatus {
		case domain.HomeworkDone:
			s.HomeworkDone++
		case domain.HomeworkNotDone:
			s.HomeworkNotDone++
		default:
			s.UnknownHomework++
		}
	}
	return s
}

// WriteWorkbook writes an xlsx backup of records to w: one row per record
// on the Students sheet and the counts on the Statistics sheet.
func WriteWorkbook(w io.Writer, records []domain.StudentRecord, now time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), StudentsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := f.SetSheetRow(StudentsSheet, "A1", &studentColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			r.StudentID,
			string(r.RegistrationStatus),
			string(r.HomeworkStatus),
			r.Comment,
			r.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := f.SetSheetRow(StudentsSheet, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if _, err := f.NewSheet(StatisticsSheet); err != nil {
		return fmt.Errorf("adding statistics sheet: %w", err)
	}
	stats := Summarize(records)
	lines := [][]any{
		{"Total Students", stats.Total},
		{"Registered", stats.Registered},
		{"Not Registered", stats.NotRegistered},
		{"Unknown Registration", stats.UnknownRegistration},
		{"Homework Done", stats.HomeworkDone},
		{"Homework Not Done", stats.HomeworkNotDone},
		{"Unknown Homework", stats.UnknownHomework},
		{"Export Time", now.UTC().Format(time.RFC3339)},
	}
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(StatisticsSheet, cell, &line); err != nil {
			return fmt.Errorf("writing statistics: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
