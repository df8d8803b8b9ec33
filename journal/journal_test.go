package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "events.jsonl"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return j
}

func event(id string, ts time.Time) Event {
	return Event{
		Type:         TypeStudentRecord,
		Payload:      json.RawMessage(`{"studentId":"` + id + `"}`),
		TS:           ts,
		SourceNodeID: "n0",
		SourceName:   "gate",
		SourceRole:   "first_scan",
	}
}

func TestJournal(t *testing.T) {
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("append and query in file order", func(t *testing.T) {
		j := openJournal(t)
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, j.Append(event(id, base.Add(time.Duration(i)*time.Minute))))
		}

		events, err := j.Query(time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.JSONEq(t, `{"studentId":"a"}`, string(events[0].Payload))
		assert.JSONEq(t, `{"studentId":"c"}`, string(events[2].Payload))
		assert.Equal(t, "gate", events[1].SourceName)
		assert.True(t, base.Add(time.Minute).Equal(events[1].TS))
	})

	t.Run("since is an inclusive lower bound", func(t *testing.T) {
		j := openJournal(t)
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, j.Append(event(id, base.Add(time.Duration(i)*time.Minute))))
		}

		events, err := j.Query(base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.JSONEq(t, `{"studentId":"b"}`, string(events[0].Payload))
	})

	t.Run("unparsable lines are skipped", func(t *testing.T) {
		j := openJournal(t)
		require.NoError(t, j.Append(event("a", base)))

		f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString("garbage{\n\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, j.Append(event("b", base)))

		events, err := j.Query(time.Time{})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("oversized line is skipped", func(t *testing.T) {
		j := openJournal(t)
		require.NoError(t, j.Append(event("a", base)))

		f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.Write(append(bytes.Repeat([]byte("x"), maxLine+1), '\n'))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, j.Append(event("b", base)))

		events, err := j.Query(time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.JSONEq(t, `{"studentId":"b"}`, string(events[1].Payload))
	})

	t.Run("last line without newline is read", func(t *testing.T) {
		j := openJournal(t)
		require.NoError(t, j.Append(event("a", base)))

		f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"type":"cache_update","payload":{"version":1},"ts":"2026-02-01T12:00:00Z"}`)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		events, err := j.Query(time.Time{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, TypeCacheUpdate, events[1].Type)
	})

	t.Run("clear truncates", func(t *testing.T) {
		j := openJournal(t)
		require.NoError(t, j.Append(event("a", base)))
		require.NoError(t, j.Clear())

		events, err := j.Query(time.Time{})
		require.NoError(t, err)
		assert.Empty(t, events)

		info, err := os.Stat(j.Path())
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})
}
