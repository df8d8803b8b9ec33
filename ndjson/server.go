// Package ndjson serves the hub protocol over plain TCP, one JSON message
// per line. It is meant for scanner stations that cannot speak websocket.
package ndjson

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
)

// Server accepts TCP connections and feeds their lines to the hub.
type Server struct {
	hub    *hub.Handler
	cfg    *config.WebSocketConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	wg       sync.WaitGroup
	closing  bool
}

// NewServer creates an NDJSON server. Queue size, line limit and write
// timeout come from the websocket section so both transports behave alike.
func NewServer(h *hub.Handler, cfg *config.WebSocketConfig, logger *slog.Logger) *Server {
	return &Server{
		hub:      h,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*session]struct{}),
	}
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. Each connection is handled in its own
// goroutine. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("NDJSON listener started", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()

	sess := newSession(conn, s.cfg.SendBuffer, time.Duration(s.cfg.WriteTimeout)*time.Second, s.logger)
	go sess.run()

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	if s.closing {
		sess.Close("server shutting down")
	}
	s.mu.Unlock()

	nodeID := s.hub.Connect(sess)
	defer func() {
		sess.Close("")
		s.hub.Disconnect(nodeID)
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limit := s.cfg.MessageSizeLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), limit)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if res := s.hub.Handle(ctx, nodeID, line); res.Outcome == hub.OutcomeClose {
			<-sess.writerDone
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Info("Read error from node", "nodeId", nodeID, "error", err)
	}
}

// Shutdown stops accepting, closes every session and waits for the
// handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	for sess := range s.sessions {
		sess.Close("server shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
