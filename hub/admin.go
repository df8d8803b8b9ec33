package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/metrics"
)

// rosterEvent is the journal payload of a cache_update.
type rosterEvent struct {
	Version       int64  `json:"version"`
	StudentsCount int    `json:"studentsCount"`
	Source        string `json:"source,omitempty"`
}

// PublishRoster replaces the roster snapshot and pushes it to every
// first_scan station. source names where the rows came from (a file name).
func (h *Handler) PublishRoster(ctx context.Context, rows []domain.RosterRow, source string) (domain.Snapshot, error) {
	snap, err := h.cache.Replace(rows)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("replacing roster: %w", err)
	}
	metrics.CacheVersion.Set(float64(snap.Version))
	h.logger.Info("Roster replaced", "version", snap.Version, "students", len(snap.Students), "source", source)

	payload, err := json.Marshal(rosterEvent{Version: snap.Version, StudentsCount: len(snap.Students), Source: source})
	if err != nil {
		return snap, fmt.Errorf("encoding roster event: %w", err)
	}
	h.record(ctx, journal.Event{Type: journal.TypeCacheUpdate, Payload: payload, TS: h.now()})

	d, err := h.router.Broadcast(cacheMessage(TypeCacheUpdate, snap), domain.RoleFirstScan)
	if err != nil {
		return snap, err
	}
	h.logger.Debug("Broadcast cache update", "version", snap.Version, "delivered", d.Delivered, "failed", len(d.Failed))
	return snap, nil
}

// Reset empties the roster, the student state and the journal, then tells
// every connected node. The reset itself is not journaled.
func (h *Handler) Reset(_ context.Context) error {
	snap, err := h.cache.Reset()
	if err != nil {
		return fmt.Errorf("resetting cache: %w", err)
	}
	metrics.CacheVersion.Set(float64(snap.Version))
	if err := h.state.Reset(); err != nil {
		return fmt.Errorf("resetting state: %w", err)
	}
	if err := h.events.Clear(); err != nil {
		return fmt.Errorf("clearing journal: %w", err)
	}

	d, err := h.router.Broadcast(SystemResetMessage{Type: TypeSystemReset, TS: h.now()})
	if err != nil {
		return err
	}
	h.logger.Info("System reset", "notified", d.Delivered)
	return nil
}

// Snapshot returns the current roster.
func (h *Handler) Snapshot() domain.Snapshot { return h.cache.Current() }

// State returns every student record keyed by ID.
func (h *Handler) State() map[string]domain.StudentRecord { return h.state.All() }

// Nodes lists live connections in connect order.
func (h *Handler) Nodes() []domain.Node { return h.registry.List() }

// Events returns journal entries at or after since; zero means all.
func (h *Handler) Events(since time.Time) ([]journal.Event, error) {
	return h.events.Query(since)
}
