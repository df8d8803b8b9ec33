package session

import (
	"context"
	"time"
)

// Session is the presence record of one registered node. It mirrors the
// in-memory registry entry so dashboards outside this process can see
// which stations are online.
type Session struct {
	NodeID       string    `json:"node_id"`
	ServerID     string    `json:"server_id"` // ID of the hub instance holding the connection
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Transport    string    `json:"transport"`
	ConnectedAt  time.Time `json:"connected_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store defines the interface for presence records.
type Store interface {
	// Create stores or replaces a node's record.
	Create(ctx context.Context, session *Session) error
	// Get retrieves a record by node ID; nil when absent.
	Get(ctx context.Context, nodeID string) (*Session, error)
	// Delete removes a record.
	Delete(ctx context.Context, nodeID string) error
	// RefreshTTL extends the record's lifetime in the store.
	RefreshTTL(ctx context.Context, nodeID string) error
}
