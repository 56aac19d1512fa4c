package transport

import (
	"io"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type connState int

const (
	stateIdle connState = iota
	stateStarted
	stateListening
	stateConnecting
	stateConnected
	stateFailed
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarted:
		return "started"
	case stateListening:
		return "listening"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateFailed:
		return "failed"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Stats are the connection counters.
type Stats struct {
	PacketsSent     int
	BytesSent       int
	PacketsReceived int
	BytesReceived   int
	Retransmits     int
	Duplicates      int
	SmoothedRTT     time.Duration
}

type pendingPacket struct {
	frame   []byte
	sentAt  time.Time
	retries int
}

// ReliableConnection is a Transport over an unreliable Link. Data packets
// carry a sequence number and are retransmitted until acknowledged; the
// receiving side acknowledges every data packet and delivers payloads in
// sequence order exactly once.
type ReliableConnection struct {
	cfg  Config
	open LinkOpener
	log  logrus.FieldLogger

	mu        sync.Mutex
	link      Link
	state     connState
	remote    Address
	nextSeq   uint32
	expectSeq uint32
	pending   map[uint32]*pendingPacket
	reorder   *redblacktree.Tree // seq -> payload, received ahead of expectSeq
	lastHeard time.Time
	lastSent  time.Time
	rtt       rttEstimator
	failure   error
	stats     Stats

	window    chan struct{} // one token per unacknowledged packet
	inbox     chan []byte
	failed    chan struct{}
	closed    chan struct{}
	failOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Transport = (*ReliableConnection)(nil)
var _ Flusher = (*ReliableConnection)(nil)

// NewReliableConnection returns an unstarted connection. The link is opened
// by Start.
func NewReliableConnection(cfg Config, open LinkOpener, log logrus.FieldLogger) *ReliableConnection {
	return &ReliableConnection{
		cfg:     cfg,
		open:    open,
		log:     orStandard(log),
		pending: make(map[uint32]*pendingPacket),
		reorder: redblacktree.NewWith(utils.UInt32Comparator),
		rtt:     newRTTEstimator(cfg.InitialRTO, cfg.MinRTO),
		window:  make(chan struct{}, max(cfg.Window, 1)),
		inbox:   make(chan []byte, max(cfg.QueueSize, 1)),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Start opens the link on localPort and starts the receive and timer loops.
func (c *ReliableConnection) Start(localPort int) error {
	if err := c.cfg.Validate(); err != nil {
		return errors.Wrap(err, "transport config")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateIdle:
	case stateClosed:
		return ErrClosed
	default:
		return errors.New("transport already started")
	}
	link, err := c.open(localPort)
	if err != nil {
		return errors.Wrapf(err, "start on port %d", localPort)
	}
	c.link = link
	c.state = stateStarted
	c.wg.Add(2)
	go c.readLoop()
	go c.timerLoop()
	c.log.WithField("port", localPort).Debug("Transport started")
	return nil
}

// Listen waits for the first peer to send a valid packet and adopts it as
// the remote end.
func (c *ReliableConnection) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.modeChangeLocked(); err != nil {
		return err
	}
	c.state = stateListening
	return nil
}

// Connect sets addr as the remote end and announces itself with a
// keepalive. The connection counts as established once the peer answers;
// if it stays silent for Timeout the connection fails.
func (c *ReliableConnection) Connect(addr Address) error {
	c.mu.Lock()
	if err := c.modeChangeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	now := time.Now()
	c.state = stateConnecting
	c.remote = addr
	c.lastHeard = now
	c.lastSent = now
	link := c.link
	frame := encodeEnvelope(c.cfg.ProtocolID, envelope{kind: kindKeepAlive})
	c.mu.Unlock()

	c.log.WithField("remote", addr).Debug("Connecting")
	if err := link.Send(frame, addr); err != nil {
		return errors.Wrapf(err, "connect to %s", addr)
	}
	return nil
}

func (c *ReliableConnection) modeChangeLocked() error {
	switch c.state {
	case stateStarted:
		return nil
	case stateIdle:
		return ErrNotStarted
	case stateClosed:
		return ErrClosed
	}
	return errors.Errorf("transport already %s", c.state)
}

// SendPacket queues data for reliable delivery. It blocks while Window
// packets are unacknowledged, for at most Timeout.
func (c *ReliableConnection) SendPacket(data []byte) error {
	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case c.window <- struct{}{}:
	case <-c.failed:
		return c.failureErr()
	case <-c.closed:
		return ErrClosed
	case <-timer.C:
		return errors.Wrap(ErrTimeout, "send window full")
	}

	c.mu.Lock()
	if err := c.sendableLocked(); err != nil {
		c.mu.Unlock()
		<-c.window
		return err
	}
	seq := c.nextSeq
	c.nextSeq++
	now := time.Now()
	frame := encodeEnvelope(c.cfg.ProtocolID, envelope{kind: kindData, seq: seq, payload: data})
	c.pending[seq] = &pendingPacket{frame: frame, sentAt: now}
	c.lastSent = now
	c.stats.PacketsSent++
	c.stats.BytesSent += len(data)
	remote, link := c.remote, c.link
	c.mu.Unlock()

	if err := link.Send(frame, remote); err != nil {
		c.mu.Lock()
		c.removePendingLocked(seq)
		c.mu.Unlock()
		return errors.Wrapf(err, "send seq %d", seq)
	}
	return nil
}

func (c *ReliableConnection) sendableLocked() error {
	switch c.state {
	case stateConnecting, stateConnected:
		return nil
	case stateIdle:
		return ErrNotStarted
	case stateFailed:
		return c.failure
	case stateClosed:
		return ErrClosed
	}
	return ErrNotConnected
}

// ReceivePacket copies the next in-order message into buf. A message longer
// than buf is truncated and reported with io.ErrShortBuffer.
func (c *ReliableConnection) ReceivePacket(buf []byte) (int, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == stateIdle {
		return 0, ErrNotStarted
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case p := <-c.inbox:
		return deliver(buf, p)
	case <-c.closed:
		return 0, ErrClosed
	case <-c.failed:
		// messages that arrived before the failure are still handed out
		select {
		case p := <-c.inbox:
			return deliver(buf, p)
		default:
			return 0, c.failureErr()
		}
	case <-timer.C:
		return 0, ErrTimeout
	}
}

func deliver(buf, p []byte) (int, error) {
	n := copy(buf, p)
	if n < len(p) {
		return n, errors.Wrapf(io.ErrShortBuffer, "message of %d bytes", len(p))
	}
	return n, nil
}

// Flush waits until every sent packet has been acknowledged.
func (c *ReliableConnection) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		outstanding := len(c.pending)
		c.mu.Unlock()
		if outstanding == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrTimeout, "%d packets unacknowledged", outstanding)
		}
		select {
		case <-c.closed:
			return ErrClosed
		case <-c.failed:
			return c.failureErr()
		case <-time.After(c.cfg.Tick):
		}
	}
}

// Shutdown closes the link and waits for the loops to exit. It is safe to
// call more than once.
func (c *ReliableConnection) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		link := c.link
		c.state = stateClosed
		c.mu.Unlock()
		close(c.closed)
		if link != nil {
			err = link.Close()
		}
		c.wg.Wait()
		c.log.Debug("Transport shut down")
	})
	return err
}

// RemoteAddr returns the peer address, zero while none is known.
func (c *ReliableConnection) RemoteAddr() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Stats returns a snapshot of the connection counters.
func (c *ReliableConnection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.SmoothedRTT = c.rtt.smoothed
	return s
}

// ---------------------
// Loops
// ---------------------

func (c *ReliableConnection) readLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		frame, from, err := c.link.Recv(5 * c.cfg.Tick)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.fail(errors.Wrap(err, "link receive"))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		c.handleFrame(frame, from)
	}
}

func (c *ReliableConnection) handleFrame(frame []byte, from Address) {
	env, err := decodeEnvelope(c.cfg.ProtocolID, frame)
	if err != nil {
		c.log.WithError(err).WithField("from", from).Debug("Dropping packet")
		return
	}

	now := time.Now()
	c.mu.Lock()
	switch c.state {
	case stateListening:
		if env.kind == kindAck {
			// a late ack from an earlier session is not a new peer
			c.mu.Unlock()
			return
		}
		c.remote = from
		c.state = stateConnected
		c.log.WithField("remote", from).Info("Peer connected")
	case stateConnecting:
		if from != c.remote {
			c.mu.Unlock()
			return
		}
		c.state = stateConnected
		c.log.WithField("remote", from).Debug("Connection established")
	case stateConnected:
		if from != c.remote {
			c.mu.Unlock()
			return
		}
	default:
		c.mu.Unlock()
		return
	}
	c.lastHeard = now

	var reply []byte
	var ready [][]byte
	switch env.kind {
	case kindAck:
		if p, ok := c.pending[env.seq]; ok {
			if p.retries == 0 {
				c.rtt.update(now.Sub(p.sentAt))
			}
			c.removePendingLocked(env.seq)
		}
	case kindData:
		c.stats.PacketsReceived++
		ack := encodeEnvelope(c.cfg.ProtocolID, envelope{kind: kindAck, seq: env.seq})
		switch d := int32(env.seq - c.expectSeq); {
		case d == 0:
			reply = ack
			ready = append(ready, clone(env.payload))
			c.expectSeq++
			for !c.reorder.Empty() {
				next := c.reorder.Left()
				if next.Key.(uint32) != c.expectSeq {
					break
				}
				ready = append(ready, next.Value.([]byte))
				c.reorder.Remove(next.Key)
				c.expectSeq++
			}
		case d > 0 && int(d) <= 2*c.cfg.Window:
			reply = ack
			if _, found := c.reorder.Get(env.seq); !found {
				c.reorder.Put(env.seq, clone(env.payload))
			}
		case d < 0:
			// already delivered; the earlier ack was lost
			reply = ack
			c.stats.Duplicates++
		default:
			// too far ahead to buffer; no ack so the sender retransmits
		}
		for _, p := range ready {
			c.stats.BytesReceived += len(p)
		}
	case kindKeepAlive:
	}
	remote, link := c.remote, c.link
	c.mu.Unlock()

	if reply != nil {
		if err := link.Send(reply, remote); err != nil {
			c.log.WithError(err).Debug("Ack send failed")
		}
	}
	for _, p := range ready {
		select {
		case c.inbox <- p:
		case <-c.closed:
			return
		}
	}
}

func (c *ReliableConnection) timerLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-c.failed:
			return
		case now := <-ticker.C:
			c.onTick(now)
		}
	}
}

// onTick retransmits overdue packets, sends keepalives when idle and fails
// the connection when the peer has gone silent.
func (c *ReliableConnection) onTick(now time.Time) {
	c.mu.Lock()
	if c.state != stateConnecting && c.state != stateConnected {
		c.mu.Unlock()
		return
	}
	remote, link := c.remote, c.link
	if silent := now.Sub(c.lastHeard); silent > c.cfg.Timeout {
		c.mu.Unlock()
		c.fail(errors.Wrapf(ErrPeerLost, "nothing heard from %s for %s", remote, silent.Round(time.Millisecond)))
		return
	}

	var out [][]byte
	rto := c.rtt.rto()
	for seq, p := range c.pending {
		if now.Sub(p.sentAt) < backoff(rto, p.retries, c.cfg.Timeout) {
			continue
		}
		if p.retries >= c.cfg.MaxRetries {
			c.mu.Unlock()
			c.fail(errors.Wrapf(ErrRetriesExhausted, "seq %d after %d retries", seq, p.retries))
			return
		}
		p.retries++
		p.sentAt = now
		c.stats.Retransmits++
		out = append(out, p.frame)
		c.log.WithFields(logrus.Fields{"seq": seq, "retry": p.retries, "rto": rto}).Debug("Retransmitting")
	}
	if len(out) == 0 && now.Sub(c.lastSent) >= c.cfg.KeepAlive {
		out = append(out, encodeEnvelope(c.cfg.ProtocolID, envelope{kind: kindKeepAlive}))
	}
	if len(out) > 0 {
		c.lastSent = now
	}
	c.mu.Unlock()

	for _, f := range out {
		if err := link.Send(f, remote); err != nil {
			c.log.WithError(err).Debug("Send failed")
		}
	}
}

// removePendingLocked forgets an acknowledged packet and frees its window
// slot.
func (c *ReliableConnection) removePendingLocked(seq uint32) {
	if _, ok := c.pending[seq]; !ok {
		return
	}
	delete(c.pending, seq)
	select {
	case <-c.window:
	default:
	}
}

func (c *ReliableConnection) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.failure = err
		if c.state != stateClosed {
			c.state = stateFailed
		}
		c.mu.Unlock()
		c.log.WithError(err).Warn("Connection failed")
		close(c.failed)
	})
}

func (c *ReliableConnection) failureErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return ErrClosed
	}
	return c.failure
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
