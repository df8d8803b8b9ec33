// Package server runs the HTTP listener (admin API and /ws) and the
// optional NDJSON listener, and shuts them down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/ndjson"
	"github.com/abdelmounim-dev/scanhub/websocket"
)

// Relay is the event relay drained on shutdown.
type Relay interface {
	Wait()
}

// Server owns the listeners.
type Server struct {
	cfg     *config.ServerConfig
	http    *http.Server
	clients *websocket.ClientManager
	tcp     *ndjson.Server
	logger  *slog.Logger
}

// NewServer mounts ws at /ws and api everywhere else. tcp may be nil.
func NewServer(cfg *config.ServerConfig, api http.Handler, ws *websocket.Handler, clients *websocket.ClientManager, tcp *ndjson.Server, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.Handle("/", api)

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           mux,
			ReadHeaderTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
		},
		clients: clients,
		tcp:     tcp,
		logger:  logger,
	}
}

// Handler returns the HTTP routing tree.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start runs the listeners and blocks until one of them fails. It returns
// nil once Shutdown has stopped them.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	if s.tcp != nil {
		go func() {
			addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.TCPPort))
			if err := s.tcp.ListenAndServe(addr); err != nil {
				errCh <- fmt.Errorf("ndjson server: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	return <-errCh
}

// Shutdown stops accepting, closes every live connection, waits for the
// read loops and then for in-flight relay publishes.
func (s *Server) Shutdown(ctx context.Context, relay Relay) error {
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.logger.Info("Closing websocket connections", "count", s.clients.Count())
	s.clients.CloseAllConnections("Server shutting down")
	waitOrDone(ctx, s.clients.WaitForCompletion)

	if s.tcp != nil {
		if err := s.tcp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ndjson shutdown: %w", err))
		}
	}

	if relay != nil {
		waitOrDone(ctx, relay.Wait)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Server shutdown complete")
	return nil
}

func waitOrDone(ctx context.Context, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
