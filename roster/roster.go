// Package roster reads uploaded roster files (xlsx or csv) into roster rows
// and writes the state backup workbook.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/validate"
)

// ErrUnsupportedFile is returned for uploads that are neither xlsx nor csv.
var ErrUnsupportedFile = errors.New("unsupported roster file type")

// Result is a parsed roster. Rows that fail validation are reported in
// Errors as "Row N: reason", N counting data rows from 1.
type Result struct {
	Rows   []domain.RosterRow
	Errors []string
	Total  int
}

// Parse reads a roster from r. The format follows filename's extension.
// The first row of the first sheet is the header.
func Parse(r io.Reader, filename string, now time.Time) (Result, error) {
	var (
		table [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		table, err = readXLSX(r)
	case ".csv":
		table, err = readCSV(r)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, filename)
	}
	if err != nil {
		return Result{}, err
	}
	return rowsFromTable(table, now), nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func rowsFromTable(table [][]string, now time.Time) Result {
	res := Result{Rows: []domain.RosterRow{}}
	if len(table) < 2 {
		return res
	}
	header := table[0]

	for i, cells := range table[1:] {
		if blank(cells) {
			continue
		}
		res.Total++
		row := make(map[string]string, len(header))
		for col, name := range header {
			if name == "" {
				continue
			}
			if col < len(cells) {
				row[name] = cells[col]
			} else {
				row[name] = ""
			}
		}
		rr, err := validate.RosterRow(row, now)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		res.Rows = append(res.Rows, rr)
	}
	return res
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
