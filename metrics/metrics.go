package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics, labeled by transport (websocket, ndjson).
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanhub_connections_active",
		Help: "The current number of live connections.",
	}, []string{"transport"})
	TotalConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_connections_total",
		Help: "The total number of connections accepted.",
	}, []string{"transport"})
	RegisteredNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scanhub_nodes_registered",
		Help: "The current number of registered nodes per role.",
	}, []string{"role"})

	// Protocol metrics
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_messages_received_total",
		Help: "Inbound messages by type and handling outcome.",
	}, []string{"type", "outcome"})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanhub_messages_sent_total",
		Help: "Outbound messages queued to connections.",
	})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanhub_messages_dropped_total",
		Help: "Outbound messages dropped because a send failed.",
	}, []string{"reason"})
	StudentRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanhub_student_records_total",
		Help: "Student records merged into the state store.",
	})
	CacheVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanhub_cache_version",
		Help: "The current roster cache version.",
	})

	// Relay metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of events published to the message broker.",
	}, []string{"broker_type"})
	BrokerPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "The total number of retries when publishing to the message broker.",
	}, []string{"broker_type"})

	// Auth metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful registrations.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of rejected registrations.",
	}, []string{"reason"})
)

// StartServer serves Prometheus metrics on port in the background.
func StartServer(port int, path string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	logger.Info("Starting metrics server", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
