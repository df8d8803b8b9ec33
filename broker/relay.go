package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/metrics"
)

const publishTimeout = 10 * time.Second

// Relay publishes journaled events to a broker channel without blocking
// the caller. Publishing is best effort: a failure after retries is logged
// and the event stays only in the local journal.
type Relay struct {
	broker   MessageBroker
	channel  string
	serverID string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewRelay creates a relay publishing on channel.
func NewRelay(b MessageBroker, channel, serverID string, logger *slog.Logger) *Relay {
	return &Relay{
		broker:   b,
		channel:  channel,
		serverID: serverID,
		logger:   logger,
	}
}

// Relay publishes e in the background.
func (r *Relay) Relay(_ context.Context, e journal.Event) {
	msg := Message{
		ServerID: r.serverID,
		Type:     e.Type,
		Data:     e.Payload,
		TS:       e.TS,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// The triggering request may already be done; use a fresh deadline.
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := r.broker.Publish(ctx, r.channel, msg); err != nil {
			r.logger.Error("Failed to relay event", "type", e.Type, "broker", r.broker.Type(), "error", err)
			return
		}
		metrics.BrokerMessagesPublished.WithLabelValues(r.broker.Type()).Inc()
	}()
}

// Wait blocks until every in-flight publish has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}
