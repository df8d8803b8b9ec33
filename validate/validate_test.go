package validate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/scanhub/domain"
)

func TestRecord(t *testing.T) {
	t.Run("unknown enum values normalize", func(t *testing.T) {
		patch, err := Record(json.RawMessage(`{"studentId":"S1","registrationStatus":"MAYBE","homeworkStatus":"Done"}`))
		require.NoError(t, err)
		require.NotNil(t, patch.RegistrationStatus)
		assert.Equal(t, domain.RegistrationUnknown, *patch.RegistrationStatus)
		require.NotNil(t, patch.HomeworkStatus)
		assert.Equal(t, domain.HomeworkDone, *patch.HomeworkStatus)
	})

	t.Run("absent fields stay unset", func(t *testing.T) {
		patch, err := Record(json.RawMessage(`{"studentId":"  S2 ","comment":"  hi  "}`))
		require.NoError(t, err)
		assert.Equal(t, "S2", patch.StudentID)
		assert.Nil(t, patch.RegistrationStatus)
		assert.Nil(t, patch.HomeworkStatus)
		require.NotNil(t, patch.Comment)
		assert.Equal(t, "hi", *patch.Comment)
		assert.Nil(t, patch.Source)
	})

	t.Run("source is kept opaque", func(t *testing.T) {
		patch, err := Record(json.RawMessage(`{"studentId":"S3","source":{"station":"gate-1","n":[1,2]}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"station":"gate-1","n":[1,2]}`, string(patch.Source))
	})

	t.Run("student id is case preserving", func(t *testing.T) {
		patch, err := Record(json.RawMessage(`{"studentId":"AbC-9"}`))
		require.NoError(t, err)
		assert.Equal(t, "AbC-9", patch.StudentID)
	})

	rejected := []struct {
		name string
		raw  string
	}{
		{name: "not an object", raw: `"S1"`},
		{name: "empty payload", raw: ``},
		{name: "missing id", raw: `{"comment":"x"}`},
		{name: "blank id", raw: `{"studentId":"   "}`},
		{name: "numeric id", raw: `{"studentId":12}`},
		{name: "null id", raw: `{"studentId":null}`},
	}
	for _, tc := range rejected {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Record(json.RawMessage(tc.raw))
			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
		})
	}
}

func TestRosterRow(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	row, err := RosterRow(map[string]string{
		"Student ID":   " 1001 ",
		"Full Name":    "Ada Lovelace",
		"Grade":        "10",
		"Class":        "",
		"Registration": "REGISTERED",
		"Homework":     "later",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "1001", row.StudentID)
	require.NotNil(t, row.FullName)
	assert.Equal(t, "Ada Lovelace", *row.FullName)
	require.NotNil(t, row.Grade)
	assert.Equal(t, "10", *row.Grade)
	assert.Nil(t, row.ClassName)
	assert.Equal(t, domain.Registered, row.RegistrationStatus)
	assert.Equal(t, domain.HomeworkUnknown, row.HomeworkStatus)
	assert.Equal(t, now, row.LastUpdatedAt)

	row, err = RosterRow(map[string]string{"id": "7", "class name": "B"}, now)
	require.NoError(t, err)
	assert.Equal(t, "7", row.StudentID)
	require.NotNil(t, row.ClassName)
	assert.Equal(t, "B", *row.ClassName)

	_, err = RosterRow(map[string]string{"Name": "No Id"}, now)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}
