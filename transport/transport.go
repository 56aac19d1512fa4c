// Package transport provides the connection contract the file-transfer
// session is written against, and a reliable connection that implements it
// on top of an unreliable datagram Link (UDP, or KISS frames over TCP or a
// serial port).
package transport

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout means nothing arrived within the configured timeout.
	ErrTimeout = errors.New("transport timeout")
	// ErrClosed is returned by every call after Shutdown.
	ErrClosed = errors.New("transport closed")
	// ErrNotConnected is returned when sending before a peer is known.
	ErrNotConnected = errors.New("transport not connected")
	// ErrNotStarted is returned when Listen/Connect/Send run before Start.
	ErrNotStarted = errors.New("transport not started")
	// ErrPeerLost means a connected peer went silent for longer than the
	// timeout.
	ErrPeerLost = errors.New("peer lost")
	// ErrRetriesExhausted means a packet was never acknowledged.
	ErrRetriesExhausted = errors.New("packet retransmission limit reached")
)

// Transport is the connection the session protocol is driven over. Sends are
// delivered reliably and in order by the implementation; the session never
// retransmits.
type Transport interface {
	// Start binds the local endpoint.
	Start(localPort int) error
	// Listen puts the connection in server mode: the first peer heard from
	// becomes the remote end.
	Listen() error
	// Connect puts the connection in client mode towards addr.
	Connect(addr Address) error
	// SendPacket sends one message. It may block while the transport's
	// internal buffering is full.
	SendPacket(data []byte) error
	// ReceivePacket copies the next message into buf and returns its length.
	// It returns ErrTimeout when nothing arrives in time.
	ReceivePacket(buf []byte) (int, error)
	// Shutdown releases the connection. Blocked calls return ErrClosed.
	Shutdown() error
}

// Flusher is implemented by transports that can wait for outstanding
// packets to be acknowledged.
type Flusher interface {
	Flush(timeout time.Duration) error
}

// Config holds the reliable connection parameters.
type Config struct {
	ProtocolID uint32        // packets carrying another id are ignored
	Timeout    time.Duration // silence from a connected peer, and receive wait
	Window     int           // unacknowledged packets in flight
	MaxRetries int
	KeepAlive  time.Duration
	InitialRTO time.Duration
	MinRTO     time.Duration
	Tick       time.Duration // retransmission timer granularity
	QueueSize  int           // delivered but unread messages
}

// DefaultConfig returns the parameters used by the command-line tools.
func DefaultConfig() Config {
	return Config{
		ProtocolID: 0x11223344,
		Timeout:    10 * time.Second,
		Window:     64,
		MaxRetries: 10,
		KeepAlive:  time.Second,
		InitialRTO: 500 * time.Millisecond,
		MinRTO:     50 * time.Millisecond,
		Tick:       20 * time.Millisecond,
		QueueSize:  1024,
	}
}

// Validate reports configuration values the connection cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return errors.New("timeout must be positive")
	case c.Window <= 0:
		return errors.New("window must be positive")
	case c.MaxRetries < 0:
		return errors.New("max retries must not be negative")
	case c.KeepAlive <= 0:
		return errors.New("keepalive must be positive")
	case c.InitialRTO <= 0 || c.MinRTO <= 0:
		return errors.New("retransmission timeouts must be positive")
	case c.Tick <= 0:
		return errors.New("tick must be positive")
	case c.QueueSize <= 0:
		return errors.New("queue size must be positive")
	}
	return nil
}
