package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/scanhub/journal"
)

func newTestKafka(t *testing.T) (*KafkaBroker, *mocks.SyncProducer) {
	t.Helper()
	config := kafkaConfig()
	producer := mocks.NewSyncProducer(t, config)
	return newKafkaBroker(producer, []string{"kafka:9092"}, "scanhub", config, slog.New(slog.NewTextHandler(io.Discard, nil))), producer
}

func TestKafkaPublish(t *testing.T) {
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	msg := Message{ServerID: "hub-1", Type: journal.TypeStudentRecord, Data: json.RawMessage(`{"studentId":"S1"}`), TS: ts}

	t.Run("record is keyed and tagged by hub", func(t *testing.T) {
		b, producer := newTestKafka(t)
		var sent *sarama.ProducerMessage
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
			sent = m
			return nil
		})

		require.NoError(t, b.Publish(context.Background(), "scanhub-events", msg))
		require.NoError(t, b.Close())

		require.NotNil(t, sent)
		assert.Equal(t, "scanhub-events", sent.Topic)
		key, err := sent.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "hub-1", string(key))
		assert.Equal(t, ts, sent.Timestamp)
		assert.Contains(t, sent.Headers, sarama.RecordHeader{Key: []byte(headerEventType), Value: []byte(journal.TypeStudentRecord)})
		assert.Contains(t, sent.Headers, sarama.RecordHeader{Key: []byte(headerServerID), Value: []byte("hub-1")})

		value, err := sent.Value.Encode()
		require.NoError(t, err)
		var decoded Message
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, journal.TypeStudentRecord, decoded.Type)
		assert.JSONEq(t, `{"studentId":"S1"}`, string(decoded.Data))
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		b, producer := newTestKafka(t)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		producer.ExpectSendMessageAndSucceed()

		require.NoError(t, b.Publish(context.Background(), "scanhub-events", msg))
		require.NoError(t, b.Close())
	})

	t.Run("closed broker refuses", func(t *testing.T) {
		b, _ := newTestKafka(t)
		require.NoError(t, b.Close())
		assert.ErrorIs(t, b.Publish(context.Background(), "scanhub-events", msg), errBrokerClosed)
		assert.NoError(t, b.Close())
	})
}

func TestDecodeRecord(t *testing.T) {
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("headers fill a bare envelope", func(t *testing.T) {
		m, err := decodeRecord(&sarama.ConsumerMessage{
			Value:     []byte(`{"data":{"version":2}}`),
			Timestamp: ts,
			Headers: []*sarama.RecordHeader{
				{Key: []byte(headerEventType), Value: []byte(journal.TypeCacheUpdate)},
				{Key: []byte(headerServerID), Value: []byte("hub-2")},
				nil,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, journal.TypeCacheUpdate, m.Type)
		assert.Equal(t, "hub-2", m.ServerID)
		assert.Equal(t, ts, m.TS)
	})

	t.Run("envelope wins over headers", func(t *testing.T) {
		m, err := decodeRecord(&sarama.ConsumerMessage{
			Value:   []byte(`{"type":"student_record","server_id":"hub-1","ts":"2026-04-01T09:00:00Z"}`),
			Headers: []*sarama.RecordHeader{{Key: []byte(headerEventType), Value: []byte("other")}},
		})
		require.NoError(t, err)
		assert.Equal(t, journal.TypeStudentRecord, m.Type)
		assert.Equal(t, "hub-1", m.ServerID)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := decodeRecord(&sarama.ConsumerMessage{Value: []byte(`not json`)})
		assert.Error(t, err)
		_, err = decodeRecord(&sarama.ConsumerMessage{Value: []byte(`{"data":{}}`)})
		assert.Error(t, err)
	})
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, m.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestEventHandlerConsumeClaim(t *testing.T) {
	records := []*sarama.ConsumerMessage{
		{Offset: 1, Value: []byte(`{"type":"student_record","server_id":"hub-1","data":{"studentId":"S1"}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"type":"invoice_paid","data":{}}`)},
		{Offset: 4, Value: []byte(`{"type":"cache_update","server_id":"hub-1","data":{"version":1}}`)},
	}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(records))}
	for _, r := range records {
		claim.messages <- r
	}
	close(claim.messages)

	out := make(chan Message, len(records))
	session := &fakeSession{ctx: context.Background()}
	h := &eventHandler{out: out, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, h.ConsumeClaim(session, claim))
	close(out)

	var types []string
	for m := range out {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{journal.TypeStudentRecord, journal.TypeCacheUpdate}, types)
	assert.Equal(t, []int64{1, 2, 3, 4}, session.marked, "skipped records are committed too")
}

func TestEventHandlerStopsWithSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 7, Value: []byte(`{"type":"student_record","data":{}}`)}

	// Unbuffered and never read: delivery blocks until the session ends.
	out := make(chan Message)
	session := &fakeSession{ctx: ctx}
	h := &eventHandler{out: out, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(session, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ConsumeClaim did not return after the session ended")
	}
	assert.Empty(t, session.marked, "an undelivered record is not committed")
}
