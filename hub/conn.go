// Package hub is the real-time coordination core: the connection
// registry, the role-filtered broadcast router and the per-connection
// protocol handler. Transports (websocket, ndjson) adapt their
// connections to Conn and feed inbound frames to Handler.Handle.
package hub

import "errors"

var (
	// ErrSendQueueFull is returned by Conn.Send when the connection's
	// outbound queue has no room; the message is dropped.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrConnClosed is returned by Conn.Send after Close.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is the capability a transport hands to the hub for one live
// connection.
type Conn interface {
	// Send queues one encoded message. It must not block; when the
	// message cannot be queued it returns an error and the message is
	// dropped. Messages queued on one Conn are written in order.
	Send(data []byte) error

	// Close writes whatever is already queued, then closes the
	// transport. It is safe to call more than once.
	Close(reason string) error

	// Transport names the transport, e.g. "websocket".
	Transport() string

	RemoteAddr() string
}
