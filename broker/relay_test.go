package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/scanhub/journal"
)

type recordingBroker struct {
	mu        sync.Mutex
	published map[string][]Message
	fail      bool
}

func (b *recordingBroker) Publish(_ context.Context, channel string, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker down")
	}
	if b.published == nil {
		b.published = make(map[string][]Message)
	}
	b.published[channel] = append(b.published[channel], m)
	return nil
}

func (b *recordingBroker) Subscribe(context.Context, string) (<-chan Message, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBroker) Close() error { return nil }
func (b *recordingBroker) Type() string { return "recording" }

func TestRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("publishes one message per event", func(t *testing.T) {
		b := &recordingBroker{}
		r := NewRelay(b, "events", "hub-1", logger)

		r.Relay(context.Background(), journal.Event{Type: journal.TypeStudentRecord, Payload: json.RawMessage(`{"studentId":"S1"}`), TS: ts})
		r.Relay(context.Background(), journal.Event{Type: journal.TypeCacheUpdate, Payload: json.RawMessage(`{"version":1}`), TS: ts})
		r.Wait()

		require.Len(t, b.published["events"], 2)
		types := []string{b.published["events"][0].Type, b.published["events"][1].Type}
		assert.ElementsMatch(t, []string{journal.TypeStudentRecord, journal.TypeCacheUpdate}, types)
		for _, m := range b.published["events"] {
			assert.Equal(t, "hub-1", m.ServerID)
			assert.Equal(t, ts, m.TS)
		}
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		b := &recordingBroker{fail: true}
		r := NewRelay(b, "events", "hub-1", logger)
		r.Relay(context.Background(), journal.Event{Type: journal.TypeStudentRecord, TS: ts})
		r.Wait()
		assert.Empty(t, b.published)
	})
}

func TestMessageBinaryRoundTrip(t *testing.T) {
	m := Message{ServerID: "hub", Type: "student_record", Data: json.RawMessage(`{"a":1}`), TS: time.Unix(0, 0).UTC()}
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	var out Message
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, "hub", out.ServerID)
	assert.JSONEq(t, `{"a":1}`, string(out.Data))
}
