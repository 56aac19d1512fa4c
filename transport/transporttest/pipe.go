// Package transporttest provides an in-memory transport.Transport pair for
// exercising the session protocol without a network. Endpoints can be told
// to drop, hold back (reorder), delay, corrupt or fail individual sends.
package transporttest

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

// Options configure one Endpoint. Send callbacks receive the zero-based
// index of the send on that endpoint and the message.
type Options struct {
	Timeout   time.Duration // ReceivePacket wait; default one second
	StartErr  error
	Drop      func(n int, data []byte) bool
	Hold      func(n int, data []byte) bool // deliver after the next message
	Mutate    func(n int, data []byte) []byte
	SendErr   func(n int) error
	Delay     time.Duration // sender blocks this long per delivery
	QueueSize int
}

// Endpoint is one side of a Pipe.
type Endpoint struct {
	opts Options
	peer *Endpoint

	mu        sync.Mutex
	started   bool
	port      int
	listening bool
	remote    transport.Address
	sendCount int
	held      [][]byte
	sent      [][]byte

	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Endpoint)(nil)
var _ transport.Flusher = (*Endpoint)(nil)

// Pipe returns two connected endpoints.
func Pipe(a, b Options) (*Endpoint, *Endpoint) {
	ea, eb := newEndpoint(a), newEndpoint(b)
	ea.peer, eb.peer = eb, ea
	return ea, eb
}

func newEndpoint(opts Options) *Endpoint {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1 << 14
	}
	return &Endpoint{
		opts:   opts,
		inbox:  make(chan []byte, opts.QueueSize),
		closed: make(chan struct{}),
	}
}

func (e *Endpoint) Start(localPort int) error {
	if e.opts.StartErr != nil {
		return e.opts.StartErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return transport.ErrClosed
	}
	e.started = true
	e.port = localPort
	return nil
}

func (e *Endpoint) Listen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return transport.ErrNotStarted
	}
	e.listening = true
	return nil
}

func (e *Endpoint) Connect(addr transport.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return transport.ErrNotStarted
	}
	e.remote = addr
	return nil
}

func (e *Endpoint) SendPacket(data []byte) error {
	e.mu.Lock()
	if e.isClosed() {
		e.mu.Unlock()
		return transport.ErrClosed
	}
	if !e.started {
		e.mu.Unlock()
		return transport.ErrNotStarted
	}
	n := e.sendCount
	e.sendCount++
	msg := append([]byte(nil), data...)
	e.sent = append(e.sent, msg)
	e.mu.Unlock()

	if e.opts.SendErr != nil {
		if err := e.opts.SendErr(n); err != nil {
			return err
		}
	}
	if e.opts.Drop != nil && e.opts.Drop(n, msg) {
		return nil
	}
	if e.opts.Mutate != nil {
		msg = e.opts.Mutate(n, append([]byte(nil), msg...))
	}

	e.mu.Lock()
	if e.opts.Hold != nil && e.opts.Hold(n, msg) {
		e.held = append(e.held, msg)
		e.mu.Unlock()
		return nil
	}
	batch := append([][]byte{msg}, e.held...)
	e.held = nil
	e.mu.Unlock()

	for _, m := range batch {
		e.peer.deliver(m, e.opts.Delay)
	}
	return nil
}

// deliver blocks the sending side for delay so order is kept.
func (e *Endpoint) deliver(msg []byte, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}
	select {
	case <-e.closed:
	case e.inbox <- msg:
	}
}

func (e *Endpoint) ReceivePacket(buf []byte) (int, error) {
	timer := time.NewTimer(e.opts.Timeout)
	defer timer.Stop()
	select {
	case msg := <-e.inbox:
		n := copy(buf, msg)
		if n < len(msg) {
			return n, errors.Wrapf(io.ErrShortBuffer, "message of %d bytes", len(msg))
		}
		return n, nil
	case <-e.closed:
		return 0, transport.ErrClosed
	case <-timer.C:
		return 0, transport.ErrTimeout
	}
}

// Flush delivers held messages; the pipe has nothing else outstanding.
func (e *Endpoint) Flush(time.Duration) error {
	e.mu.Lock()
	held := e.held
	e.held = nil
	e.mu.Unlock()
	for _, m := range held {
		e.peer.deliver(m, e.opts.Delay)
	}
	return nil
}

func (e *Endpoint) Shutdown() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *Endpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// Sent returns copies of every message passed to SendPacket, including
// dropped ones, in call order.
func (e *Endpoint) Sent() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.sent))
	copy(out, e.sent)
	return out
}

// Port returns the port passed to Start.
func (e *Endpoint) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// Remote returns the address passed to Connect.
func (e *Endpoint) Remote() transport.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Listening reports whether Listen was called.
func (e *Endpoint) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// RemoteAddr satisfies the receiver's optional peer lookup.
func (e *Endpoint) RemoteAddr() transport.Address {
	return e.Remote()
}
