package ndjson

import (
	"bufio"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/abdelmounim-dev/scanhub/hub"
)

// Transport is the name this package reports through hub.Conn.
const Transport = "ndjson"

// session is one TCP connection carrying newline-delimited JSON.
type session struct {
	conn         net.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	writerDone chan struct{}
}

var _ hub.Conn = (*session)(nil)

func newSession(conn net.Conn, buffer int, writeTimeout time.Duration, logger *slog.Logger) *session {
	if buffer <= 0 {
		buffer = 1
	}
	return &session{
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger.With("remoteAddr", conn.RemoteAddr().String()),
		send:         make(chan []byte, buffer),
		writerDone:   make(chan struct{}),
	}
}

func (s *session) Transport() string  { return Transport }
func (s *session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

func (s *session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return hub.ErrConnClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return hub.ErrSendQueueFull
	}
}

// Close lets the writer flush queued lines before the socket closes. The
// line protocol has no close frame, so reason is only logged.
func (s *session) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if reason != "" {
		s.logger.Debug("Closing connection", "reason", reason)
	}
	close(s.send)
	return nil
}

// run drains the queue, one JSON document per line.
func (s *session) run() {
	defer func() {
		s.conn.Close()
		close(s.writerDone)
	}()

	w := bufio.NewWriter(s.conn)
	for data := range s.send {
		if s.writeTimeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		w.Write(data)
		w.WriteByte('\n')
		// Batch whatever else is already queued into the same flush.
		if len(s.send) > 0 {
			continue
		}
		if err := w.Flush(); err != nil {
			s.logger.Warn("NDJSON write failed", "error", err)
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		}
	}
	w.Flush()
}
