package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"

	"github.com/abdelmounim-dev/scanhub/metrics"
)

const (
	redisMaxRetries     = 3
	redisInitialBackoff = 50 * time.Millisecond
	redisMaxBackoff     = 2 * time.Second
)

// RedisBroker implements MessageBroker over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroker wraps an existing client; Close does not close it.
func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Type() string { return "redis" }

// Publish sends message on channel, retrying with exponential backoff.
func (b *RedisBroker) Publish(ctx context.Context, channel string, message Message) error {
	operation := func() error {
		return b.client.Publish(ctx, channel, message).Err()
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(redisInitialBackoff),
				backoff.WithMaxInterval(redisMaxBackoff),
			),
			redisMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		metrics.BrokerPublishRetries.WithLabelValues(b.Type()).Inc()
		b.logger.Warn("Retrying Redis publish", "channel", channel, "error", err, "next", d)
	})
}

// Subscribe delivers decoded messages from channel until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, 100)
	go func() {
		defer close(messages)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.logger.Warn("Message decode error", "channel", channel, "error", err)
					continue
				}
				select {
				case messages <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return messages, nil
}

func (b *RedisBroker) Close() error { return nil }
