// Package broker relays journaled hub events to an external message
// broker so downstream consumers can follow the check-in flow.
package broker

import (
	"context"
	"encoding/json"
	"time"
)

// Message is the envelope published for each journaled event.
type Message struct {
	ServerID string          `json:"server_id"` // hub instance that produced the event
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	TS       time.Time       `json:"ts"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis.
func (m *Message) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

// MessageBroker publishes and consumes Messages on named channels.
type MessageBroker interface {
	Publish(ctx context.Context, channel string, message Message) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	Close() error
	Type() string
}
