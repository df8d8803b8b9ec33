package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abdelmounim-dev/scanhub/config"
	"github.com/abdelmounim-dev/scanhub/hub"
)

// Transport is the name this package reports through hub.Conn.
const Transport = "websocket"

// maxCloseReason is the room a close frame leaves for its text.
const maxCloseReason = 123

// ClientSession is one websocket connection. It satisfies hub.Conn: the
// hub queues frames with Send and a single writer goroutine drains the
// queue, interleaving pings.
type ClientSession struct {
	conn   *websocket.Conn
	cfg    *config.WebSocketConfig
	logger *slog.Logger

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int
	reason    string

	writerDone chan struct{}
}

var _ hub.Conn = (*ClientSession)(nil)

// NewClientSession wraps conn. Call Run to start writing.
func NewClientSession(conn *websocket.Conn, cfg *config.WebSocketConfig, logger *slog.Logger) *ClientSession {
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = 1
	}
	return &ClientSession{
		conn:       conn,
		cfg:        cfg,
		logger:     logger.With("remoteAddr", conn.RemoteAddr().String()),
		send:       make(chan []byte, buffer),
		closeCode:  websocket.CloseNormalClosure,
		writerDone: make(chan struct{}),
	}
}

func (s *ClientSession) Transport() string  { return Transport }
func (s *ClientSession) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Send queues data for the writer. It never blocks.
func (s *ClientSession) Send(data []byte) error {
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

// Close stops accepting frames; the writer flushes what is queued, sends
// a close frame carrying reason and closes the socket.
func (s *ClientSession) Close(reason string) error {
	return s.closeWith(websocket.CloseNormalClosure, reason)
}

func (s *ClientSession) closeWith(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeCode = code
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	s.reason = reason
	close(s.send)
	return nil
}

// Done is closed once the writer has exited and the socket is closed.
func (s *ClientSession) Done() <-chan struct{} { return s.writerDone }

// Run is the writer loop. It owns every write to the socket.
func (s *ClientSession) Run() {
	ping := time.NewTicker(s.pingInterval())
	defer func() {
		ping.Stop()
		s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				s.mu.Lock()
				code, reason := s.closeCode, s.reason
				s.mu.Unlock()
				err := s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), time.Now().Add(s.writeTimeout()))
				if err != nil {
					s.logger.Debug("Error sending close message", "error", err)
				}
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("WebSocket write failed", "error", err)
				s.abandon()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout())); err != nil {
				s.logger.Warn("Failed to send ping", "error", err)
				s.abandon()
				return
			}
		}
	}
}

// abandon marks the session closed after a write failure so later sends
// fail fast instead of filling a queue nobody drains.
func (s *ClientSession) abandon() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// pongWait is how long the reader waits for any frame before declaring
// the peer dead. Pongs count, so an idle but healthy peer stays connected.
func (s *ClientSession) pongWait() time.Duration {
	return 2 * s.pingInterval()
}

func (s *ClientSession) pingInterval() time.Duration {
	if s.cfg.PingInterval <= 0 {
		return 25 * time.Second
	}
	return time.Duration(s.cfg.PingInterval) * time.Second
}

func (s *ClientSession) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.cfg.WriteTimeout) * time.Second
}
