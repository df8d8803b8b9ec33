package hub

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/abdelmounim-dev/scanhub/auth"
	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/metrics"
)

type entry struct {
	node domain.Node
	conn Conn
	seq  uint64
}

// target is a registry entry captured for delivery outside the lock.
type target struct {
	nodeID string
	conn   Conn
}

// Registry tracks every live connection, its node identity, its role and
// whether it has registered. Entries exist only in memory and vanish on
// disconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	next    uint64
	auth    auth.Authenticator
	now     func() time.Time
}

// NewRegistry creates an empty registry. A nil authenticator accepts every
// register message.
func NewRegistry(a auth.Authenticator) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		auth:    a,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Connect allocates a fresh node ID for conn and stores it unregistered.
// IDs are n0, n1, ... and are never reused within the process.
func (r *Registry) Connect(conn Conn) domain.Node {
	now := r.now()

	r.mu.Lock()
	seq := r.next
	r.next++
	node := domain.Node{
		NodeID:      "n" + strconv.FormatUint(seq, 10),
		Transport:   conn.Transport(),
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.entries[node.NodeID] = &entry{node: node, conn: conn, seq: seq}
	r.mu.Unlock()

	metrics.ActiveConnections.WithLabelValues(node.Transport).Inc()
	metrics.TotalConnections.WithLabelValues(node.Transport).Inc()
	return node
}

// RequiresToken reports whether registration checks a token at all.
func (r *Registry) RequiresToken() bool {
	if r.auth == nil {
		return false
	}
	if s, ok := r.auth.(interface{ Enabled() bool }); ok {
		return s.Enabled()
	}
	return true
}

// Register authenticates token and binds name and role to nodeID. A node
// that is already registered is rebound; its RegisteredAt is kept.
//
// Errors: domain.ErrUnauthorized (nothing changes), domain.ErrInvalidRole,
// domain.ErrUnknownNode.
func (r *Registry) Register(ctx context.Context, nodeID, name, role, token string) (domain.Node, error) {
	parsed, roleErr := domain.ParseRole(role)

	// Authentication may reach Redis; keep it outside the lock.
	if r.auth != nil {
		if err := r.auth.Authenticate(ctx, token, parsed); err != nil {
			return domain.Node{}, err
		}
	}
	if roleErr != nil {
		return domain.Node{}, roleErr
	}
	if name == "" {
		name = domain.DefaultName(nodeID)
	}

	now := r.now()
	r.mu.Lock()
	e, ok := r.entries[nodeID]
	if !ok {
		r.mu.Unlock()
		return domain.Node{}, fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeID)
	}
	previous := e.node
	e.node.Name = name
	e.node.Role = parsed
	e.node.Registered = true
	if previous.RegisteredAt.IsZero() {
		e.node.RegisteredAt = now
	}
	e.node.LastSeen = now
	node := e.node
	r.mu.Unlock()

	if previous.Registered {
		metrics.RegisteredNodes.WithLabelValues(string(previous.Role)).Dec()
	}
	metrics.RegisteredNodes.WithLabelValues(string(parsed)).Inc()
	return node, nil
}

// Lookup returns the node for nodeID.
func (r *Registry) Lookup(nodeID string) (domain.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeID]
	if !ok {
		return domain.Node{}, false
	}
	return e.node, true
}

// List returns every live node in connect order.
func (r *Registry) List() []domain.Node {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	nodes := make([]domain.Node, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	for i, e := range entries {
		nodes[i] = e.node
	}
	r.mu.RUnlock()
	return nodes
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Touch records activity from nodeID.
func (r *Registry) Touch(nodeID string) {
	now := r.now()
	r.mu.Lock()
	if e, ok := r.entries[nodeID]; ok {
		e.node.LastSeen = now
	}
	r.mu.Unlock()
}

// Disconnect removes nodeID. It returns the removed node, or false when
// the node was already gone.
func (r *Registry) Disconnect(nodeID string) (domain.Node, bool) {
	r.mu.Lock()
	e, ok := r.entries[nodeID]
	if ok {
		delete(r.entries, nodeID)
	}
	r.mu.Unlock()

	if !ok {
		return domain.Node{}, false
	}
	metrics.ActiveConnections.WithLabelValues(e.node.Transport).Dec()
	if e.node.Registered {
		metrics.RegisteredNodes.WithLabelValues(string(e.node.Role)).Dec()
	}
	return e.node, true
}

// conn returns the transport handle for nodeID.
func (r *Registry) conn(nodeID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// targets snapshots the connections a broadcast reaches. With no roles
// every connection is included; otherwise only registered nodes whose
// role is listed.
func (r *Registry) targets(roles []domain.Role) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]target, 0, len(r.entries))
	for id, e := range r.entries {
		if len(roles) > 0 && !(e.node.Registered && hasRole(roles, e.node.Role)) {
			continue
		}
		out = append(out, target{nodeID: id, conn: e.conn})
	}
	return out
}

func hasRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
