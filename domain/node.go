package domain

import "time"

// Node is the identity of one live connection.
type Node struct {
	NodeID       string    `json:"nodeId"`
	Name         string    `json:"name,omitempty"`
	Role         Role      `json:"role,omitempty"`
	Registered   bool      `json:"registered"`
	Transport    string    `json:"transport"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	RegisteredAt time.Time `json:"registeredAt,omitempty"`
	LastSeen     time.Time `json:"lastSeen"`
}

// DefaultName is the display name of a node that registered without one.
func DefaultName(nodeID string) string {
	return "node-" + nodeID
}
