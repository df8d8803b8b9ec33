package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/metrics"
)

// Delivery summarizes one broadcast.
type Delivery struct {
	Attempted int
	Delivered int
	Failed    []string // node IDs whose send failed
}

// Router fans messages out to registry connections. Delivery is best
// effort: a failed send is logged and skipped, never retried.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// Broadcast sends msg to every connection whose registered role is in
// roles, or to every live connection when roles is empty.
func (r *Router) Broadcast(msg any, roles ...domain.Role) (Delivery, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return Delivery{}, fmt.Errorf("encoding broadcast: %w", err)
	}

	var d Delivery
	for _, t := range r.registry.targets(roles) {
		d.Attempted++
		if err := r.deliver(t.nodeID, t.conn, data); err != nil {
			d.Failed = append(d.Failed, t.nodeID)
			continue
		}
		d.Delivered++
	}
	return d, nil
}

// Send delivers msg to a single node.
func (r *Router) Send(nodeID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	conn, ok := r.registry.conn(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeID)
	}
	return r.deliver(nodeID, conn, data)
}

func (r *Router) deliver(nodeID string, conn Conn, data []byte) error {
	if err := conn.Send(data); err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrSendQueueFull):
			reason = "queue_full"
		case errors.Is(err, ErrConnClosed):
			reason = "closed"
		}
		metrics.MessagesDropped.WithLabelValues(reason).Inc()
		r.logger.Warn("Failed to send message", "nodeId", nodeID, "error", err)
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}
