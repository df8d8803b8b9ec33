package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/metrics"
	"github.com/abdelmounim-dev/scanhub/session"
	"github.com/abdelmounim-dev/scanhub/validate"
)

var errNotRegistered = errors.New("node not registered")

// CacheStore is the roster snapshot the handler serves and replaces.
type CacheStore interface {
	Current() domain.Snapshot
	Replace(students []domain.RosterRow) (domain.Snapshot, error)
	Reset() (domain.Snapshot, error)
}

// StateStore holds the latest record per student.
type StateStore interface {
	All() map[string]domain.StudentRecord
	Merge(patch domain.RecordPatch) (domain.StudentRecord, error)
	Reset() error
}

// EventLog is the append-only journal.
type EventLog interface {
	Append(e journal.Event) error
	Query(since time.Time) ([]journal.Event, error)
	Clear() error
}

// EventRelay forwards journaled events outside the process. Relay must
// not block the caller.
type EventRelay interface {
	Relay(ctx context.Context, e journal.Event)
}

// Option configures a Handler.
type Option func(*Handler)

// WithRelay publishes every journaled event through r.
func WithRelay(r EventRelay) Option {
	return func(h *Handler) { h.relay = r }
}

// WithPresence mirrors registrations into s.
func WithPresence(s session.Store) Option {
	return func(h *Handler) { h.presence = s }
}

// WithServerID tags presence records with the hub instance ID.
func WithServerID(id string) Option {
	return func(h *Handler) { h.serverID = id }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler runs the per-connection protocol on top of the registry and the
// stores. It is safe for concurrent use by many connections.
type Handler struct {
	registry *Registry
	router   *Router
	cache    CacheStore
	state    StateStore
	events   EventLog
	relay    EventRelay
	presence session.Store
	serverID string
	now      func() time.Time
	logger   *slog.Logger
}

// NewHandler wires a handler.
func NewHandler(registry *Registry, cache CacheStore, state StateStore, events EventLog, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry: registry,
		router:   NewRouter(registry, logger),
		cache:    cache,
		state:    state,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	metrics.CacheVersion.Set(float64(cache.Current().Version))
	return h
}

// Registry exposes the connection registry.
func (h *Handler) Registry() *Registry { return h.registry }

// Connect registers a fresh connection and greets it with its node ID.
func (h *Handler) Connect(conn Conn) string {
	node := h.registry.Connect(conn)
	h.logger.Info("Node connected", "nodeId", node.NodeID, "transport", node.Transport, "remoteAddr", node.RemoteAddr)
	if err := h.router.Send(node.NodeID, welcomeMessage(node.NodeID)); err != nil {
		h.logger.Warn("Failed to send welcome", "nodeId", node.NodeID, "error", err)
	}
	return node.NodeID
}

// Disconnect forgets nodeID. Calling it twice is harmless.
func (h *Handler) Disconnect(nodeID string) {
	node, ok := h.registry.Disconnect(nodeID)
	if !ok {
		return
	}
	h.logger.Info("Node disconnected", "nodeId", nodeID, "name", node.Name, "role", node.Role)
	if h.presence != nil && node.Registered {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.Delete(ctx, nodeID); err != nil {
			h.logger.Warn("Failed to delete presence record", "nodeId", nodeID, "error", err)
		}
	}
}

// Handle processes one inbound frame from nodeID and applies the result:
// replies, logging and, for OutcomeClose, closing the connection.
func (h *Handler) Handle(ctx context.Context, nodeID string, raw []byte) Result {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		res := ignored(fmt.Errorf("malformed message: %w", err))
		h.apply(nodeID, "malformed", res)
		return res
	}

	res := h.dispatch(ctx, nodeID, env.Type, raw)
	h.apply(nodeID, env.Type, res)
	return res
}

func (h *Handler) dispatch(ctx context.Context, nodeID, msgType string, raw []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Recovered from panic in message handler", "nodeId", nodeID, "type", msgType, "panic", r)
			res = ignored(fmt.Errorf("panic handling %s: %v", msgType, r))
		}
	}()

	h.registry.Touch(nodeID)

	switch msgType {
	case TypeRegister:
		return h.handleRegister(ctx, nodeID, raw)
	case TypeCacheRequest:
		return h.handleCacheRequest(nodeID)
	case TypeStudentRecord:
		return h.handleStudentRecord(ctx, nodeID, raw)
	case TypeHeartbeat:
		return h.handleHeartbeat(ctx, nodeID)
	default:
		return ignored(fmt.Errorf("unknown message type %q", msgType))
	}
}

func (h *Handler) apply(nodeID, msgType string, res Result) {
	metrics.MessagesReceived.WithLabelValues(typeLabel(msgType), res.Outcome.String()).Inc()

	switch res.Outcome {
	case OutcomeOK:
	case OutcomeIgnored:
		h.logger.Warn("Ignoring message", "nodeId", nodeID, "type", msgType, "error", res.Err)
	case OutcomeReplyError:
		h.logger.Warn("Rejected message", "nodeId", nodeID, "type", msgType, "error", res.Err)
		h.reply(nodeID, LevelError, res.Reply)
	case OutcomeClose:
		h.logger.Warn("Closing connection", "nodeId", nodeID, "type", msgType, "error", res.Err)
		h.reply(nodeID, LevelError, res.Reply)
		if conn, ok := h.registry.conn(nodeID); ok {
			if err := conn.Close(res.Reply); err != nil {
				h.logger.Debug("Error closing connection", "nodeId", nodeID, "error", err)
			}
		}
		h.Disconnect(nodeID)
	}
}

func (h *Handler) reply(nodeID, level, message string) {
	if err := h.router.Send(nodeID, logMessage(level, message, h.now())); err != nil {
		h.logger.Debug("Failed to send reply", "nodeId", nodeID, "error", err)
	}
}

func (h *Handler) handleRegister(ctx context.Context, nodeID string, raw []byte) Result {
	var f registerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ignored(fmt.Errorf("malformed register: %w", err))
	}

	token, isText := textField(f.Token)
	if !isText {
		if h.registry.RequiresToken() {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			return closeConn("Unauthorized: invalid token", fmt.Errorf("%w: token is not a string", domain.ErrUnauthorized))
		}
		token = ""
	}

	name, role := f.descriptor()
	node, err := h.registry.Register(ctx, nodeID, name, role, token)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return closeConn("Unauthorized: invalid token", err)
	case errors.Is(err, domain.ErrInvalidRole):
		return replyError("Error: "+err.Error(), err)
	case err != nil:
		return ignored(err)
	}
	metrics.AuthSuccess.Inc()
	h.logger.Info("Node registered", "nodeId", nodeID, "name", node.Name, "role", node.Role)

	if h.presence != nil {
		if err := h.presence.Create(ctx, &session.Session{
			NodeID:       node.NodeID,
			ServerID:     h.serverID,
			Name:         node.Name,
			Role:         string(node.Role),
			Transport:    node.Transport,
			ConnectedAt:  node.ConnectedAt,
			RegisteredAt: node.RegisteredAt,
		}); err != nil {
			h.logger.Warn("Failed to store presence record", "nodeId", nodeID, "error", err)
		}
	}

	if err := h.router.Send(nodeID, cacheMessage(TypeCache, h.cache.Current())); err != nil {
		h.logger.Warn("Failed to send cache", "nodeId", nodeID, "error", err)
	}
	h.reply(nodeID, LevelInfo, fmt.Sprintf("Registered as %s (%s)", node.Name, node.Role))
	return ok()
}

func (h *Handler) handleCacheRequest(nodeID string) Result {
	if err := h.router.Send(nodeID, cacheMessage(TypeCache, h.cache.Current())); err != nil {
		h.logger.Warn("Failed to send cache", "nodeId", nodeID, "error", err)
	}
	return ok()
}

func (h *Handler) handleStudentRecord(ctx context.Context, nodeID string, raw []byte) Result {
	node, found := h.registry.Lookup(nodeID)
	if !found || !node.Registered {
		return ignored(errNotRegistered)
	}

	h.refreshPresence(ctx, nodeID)

	var f recordFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return ignored(fmt.Errorf("malformed student record: %w", err))
	}
	patch, err := validate.Record(f.Payload)
	if err != nil {
		return replyError("Error: "+err.Error(), err)
	}

	record, err := h.state.Merge(patch)
	if err != nil {
		return replyError("Error: failed to save student record", err)
	}
	metrics.StudentRecords.Inc()

	payload, err := json.Marshal(record)
	if err != nil {
		return replyError("Error: failed to encode student record", err)
	}
	now := h.now()
	h.record(ctx, journal.Event{
		Type:         journal.TypeStudentRecord,
		Payload:      payload,
		TS:           now,
		SourceNodeID: node.NodeID,
		SourceName:   node.Name,
		SourceRole:   string(node.Role),
	})

	d, err := h.router.Broadcast(ForwardMessage{Type: TypeForwardStudentRecord, Payload: record, TS: now}, domain.RoleLastScan)
	if err != nil {
		return replyError("Error: failed to forward student record", err)
	}
	h.logger.Debug("Forwarded student record", "studentId", record.StudentID, "from", nodeID, "delivered", d.Delivered, "failed", len(d.Failed))
	return ok()
}

func (h *Handler) handleHeartbeat(ctx context.Context, nodeID string) Result {
	if node, found := h.registry.Lookup(nodeID); found && node.Registered {
		h.refreshPresence(ctx, nodeID)
	}
	return ok()
}

// refreshPresence extends the presence record of an active station.
func (h *Handler) refreshPresence(ctx context.Context, nodeID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.RefreshTTL(ctx, nodeID); err != nil {
		h.logger.Warn("Failed to refresh presence record", "nodeId", nodeID, "error", err)
	}
}

// record journals e and hands it to the relay. A journal failure is
// logged; the store update it describes has already been persisted.
func (h *Handler) record(ctx context.Context, e journal.Event) {
	if err := h.events.Append(e); err != nil {
		h.logger.Error("Failed to append event", "type", e.Type, "error", err)
	}
	if h.relay != nil {
		h.relay.Relay(ctx, e)
	}
}

func typeLabel(t string) string {
	switch t {
	case TypeRegister, TypeCacheRequest, TypeStudentRecord, TypeHeartbeat, "malformed":
		return t
	}
	return "unknown"
}
