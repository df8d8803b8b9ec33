package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"

	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/metrics"
)

const (
	kafkaMaxRetries     = 3
	kafkaInitialBackoff = 100 * time.Millisecond
	kafkaMaxBackoff     = 5 * time.Second

	headerEventType = "event_type"
	headerServerID  = "server_id"
)

var errBrokerClosed = errors.New("broker is closed")

// hubEvents are the journal event types a hub relays. Anything else on the
// topic is committed and skipped by Subscribe.
var hubEvents = map[string]bool{
	journal.TypeStudentRecord: true,
	journal.TypeCacheUpdate:   true,
}

// KafkaBroker publishes hub events to Kafka topics. The hub only publishes;
// a consumer group is joined lazily on Subscribe, which serves downstream
// tails such as the backend command.
type KafkaBroker struct {
	brokers  []string
	groupID  string
	config   *sarama.Config
	producer sarama.SyncProducer
	logger   *slog.Logger

	mu     sync.Mutex
	groups []sarama.ConsumerGroup
	closed bool
}

func kafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_6_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	// Retries are driven by Publish so each attempt is counted.
	config.Producer.Retry.Max = 0

	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	return config
}

// NewKafkaBroker connects a sync producer to brokers. groupID names the
// consumer group used by Subscribe.
func NewKafkaBroker(brokers []string, groupID string, logger *slog.Logger) (*KafkaBroker, error) {
	config := kafkaConfig()
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaBroker(producer, brokers, groupID, config, logger), nil
}

func newKafkaBroker(producer sarama.SyncProducer, brokers []string, groupID string, config *sarama.Config, logger *slog.Logger) *KafkaBroker {
	return &KafkaBroker{
		brokers:  brokers,
		groupID:  groupID,
		config:   config,
		producer: producer,
		logger:   logger,
	}
}

func (b *KafkaBroker) Type() string { return "kafka" }

func (b *KafkaBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Publish sends message to the topic named channel. Failed sends are
// retried with exponential backoff until ctx is done.
func (b *KafkaBroker) Publish(ctx context.Context, channel string, message Message) error {
	if b.isClosed() {
		return errBrokerClosed
	}

	attempt := func() error {
		// sarama keeps retry state on the message, so every attempt gets a fresh one.
		msg, err := producerMessage(channel, message)
		if err != nil {
			return backoff.Permanent(err)
		}
		_, _, err = b.producer.SendMessage(msg)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
			),
			kafkaMaxRetries,
		),
		ctx,
	)
	return backoff.RetryNotify(attempt, policy, func(err error, next time.Duration) {
		metrics.BrokerPublishRetries.WithLabelValues(b.Type()).Inc()
		b.logger.Warn("Retrying Kafka publish", "topic", channel, "type", message.Type, "error", err, "next", next)
	})
}

// producerMessage keys the record by hub instance so one hub's events stay
// ordered within a partition.
func producerMessage(topic string, m Message) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(m.ServerID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(m.Type)},
			{Key: []byte(headerServerID), Value: []byte(m.ServerID)},
		},
		Timestamp: m.TS,
	}, nil
}

// decodeRecord rebuilds a Message from a consumed record. Headers and the
// record timestamp fill fields the envelope left empty.
func decodeRecord(rec *sarama.ConsumerMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(rec.Value, &m); err != nil {
		return Message{}, fmt.Errorf("decoding record: %w", err)
	}
	for _, h := range rec.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case headerEventType:
			if m.Type == "" {
				m.Type = string(h.Value)
			}
		case headerServerID:
			if m.ServerID == "" {
				m.ServerID = string(h.Value)
			}
		}
	}
	if m.TS.IsZero() {
		m.TS = rec.Timestamp
	}
	if m.Type == "" {
		return Message{}, errors.New("record carries no event type")
	}
	return m, nil
}

// Subscribe joins the consumer group on topic channel and delivers hub
// events until ctx is done or the broker is closed. Consume failures are
// retried with backoff.
func (b *KafkaBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBrokerClosed
	}
	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, b.config)
	if err != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("failed to join consumer group %s: %w", b.groupID, err)
	}
	b.groups = append(b.groups, group)
	b.mu.Unlock()

	out := make(chan Message, 100)
	handler := &eventHandler{out: out, logger: b.logger.With("topic", channel)}

	go func() {
		defer close(out)
		policy := backoff.WithContext(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(kafkaInitialBackoff),
				backoff.WithMaxInterval(kafkaMaxBackoff),
				backoff.WithMaxElapsedTime(0),
			),
			ctx,
		)
		for ctx.Err() == nil {
			err := group.Consume(ctx, []string{channel}, handler)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err == nil {
				policy.Reset()
				continue
			}
			next := policy.NextBackOff()
			if next == backoff.Stop {
				return
			}
			b.logger.Warn("Kafka consume failed", "topic", channel, "error", err, "next", next)
			select {
			case <-time.After(next):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close shuts the producer and any joined consumer groups down once.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	for _, g := range b.groups {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close consumer group: %w", err))
		}
	}
	return errors.Join(errs...)
}

// eventHandler forwards hub events from claimed partitions. Every record is
// marked, including the ones it skips, so a bad record is never redelivered.
type eventHandler struct {
	out    chan<- Message
	logger *slog.Logger
}

func (h *eventHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.logger.Info("Joined Kafka consumer group", "member", s.MemberID(), "generation", s.GenerationID())
	return nil
}

func (h *eventHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *eventHandler) ConsumeClaim(s sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case rec, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m, err := decodeRecord(rec)
			switch {
			case err != nil:
				h.logger.Warn("Skipping undecodable record", "partition", rec.Partition, "offset", rec.Offset, "error", err)
			case !hubEvents[m.Type]:
				h.logger.Debug("Skipping foreign record", "type", m.Type, "offset", rec.Offset)
			default:
				select {
				case h.out <- m:
				case <-s.Context().Done():
					return nil
				}
			}
			s.MarkMessage(rec, "")
		case <-s.Context().Done():
			return nil
		}
	}
}
