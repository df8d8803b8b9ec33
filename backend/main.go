// Command backend is an example downstream consumer. It subscribes to the
// channel the hub relays journal events on and keeps running totals of
// what the scanning stations report.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/abdelmounim-dev/scanhub/broker"
	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/journal"
)

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// tally counts relayed events per type and the latest status per student.
type tally struct {
	events   map[string]int
	students map[string]domain.StudentRecord
}

func newTally() *tally {
	return &tally{events: make(map[string]int), students: make(map[string]domain.StudentRecord)}
}

// apply folds one relayed message into the tally. It returns false for
// payloads it cannot decode.
func (t *tally) apply(m broker.Message) bool {
	t.events[m.Type]++
	if m.Type != journal.TypeStudentRecord {
		return true
	}
	var rec domain.StudentRecord
	if err := json.Unmarshal(m.Data, &rec); err != nil || rec.StudentID == "" {
		return false
	}
	t.students[rec.StudentID] = rec
	return true
}

func (t *tally) registered() int {
	n := 0
	for _, r := range t.students {
		if r.RegistrationStatus == domain.Registered {
			n++
		}
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	channel := getEnv("SCANHUB_BROKER_CHANNEL", "scanhub-events")

	var b broker.MessageBroker
	switch strings.ToLower(getEnv("SCANHUB_BROKER_TYPE", "redis")) {
	case "kafka":
		brokers := strings.Split(getEnv("SCANHUB_KAFKA_BROKERS", "localhost:9092"), ",")
		kb, err := broker.NewKafkaBroker(brokers, getEnv("SCANHUB_KAFKA_GROUPID", "scanhub-backend"), logger)
		if err != nil {
			logger.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		b = kb
	default:
		redisAddr := getEnv("REDIS_ADDRESS", "localhost:6379")
		logger.Info("Connecting to Redis", "addr", redisAddr)
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		b = broker.NewRedisBroker(rdb, logger)
	}
	defer b.Close()

	messages, err := b.Subscribe(ctx, channel)
	if err != nil {
		logger.Error("Failed to subscribe", "channel", channel, "error", err)
		os.Exit(1)
	}
	logger.Info("Backend started. Listening for hub events...", "broker", b.Type(), "channel", channel)

	t := newTally()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Backend stopping", "events", t.events, "students", len(t.students))
			return
		case m, ok := <-messages:
			if !ok {
				logger.Info("Event channel closed")
				return
			}
			if !t.apply(m) {
				logger.Warn("Skipping undecodable event", "type", m.Type, "serverId", m.ServerID)
				continue
			}
			logger.Info("Event received",
				"type", m.Type,
				"serverId", m.ServerID,
				"ts", m.TS,
				"students", len(t.students),
				"registered", t.registered(),
			)
		}
	}
}
