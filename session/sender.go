package session

import (
	"bytes"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

// Sender drives one outgoing transfer over a transport.
type Sender struct {
	t     transport.Transport
	cfg   Config
	log   logrus.FieldLogger
	id    string
	state State
	sleep func(time.Duration)
}

// NewSender returns a sender that will use t. A nil log uses the logrus
// standard logger.
func NewSender(t transport.Transport, cfg Config, log logrus.FieldLogger) *Sender {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.New().String()
	return &Sender{
		t:     t,
		cfg:   cfg,
		log:   log.WithField("session", id),
		id:    id,
		state: Disconnected,
		sleep: time.Sleep,
	}
}

// SessionID identifies this transfer in logs and reports.
func (s *Sender) SessionID() string { return s.id }

// State is the sender's current lifecycle step.
func (s *Sender) State() State { return s.state }

func (s *Sender) fire(ev Event) error {
	next, err := Transition(s.state, ev)
	if err != nil {
		return newError(ArgumentError, "state", err)
	}
	s.log.WithFields(logrus.Fields{"from": s.state, "to": next, "event": ev}).Debug("state change")
	s.state = next
	return nil
}

// TransferFile sends the file at filePath to the receiver at serverAddress
// (dotted IPv4, port from Config.ServerPort) and waits for its answer. A
// missing or negative answer is reported in Result.Outcome, not as an error.
// A Sender carries one transfer; once it has connected, later calls fail.
func (s *Sender) TransferFile(serverAddress, filePath string) (*Result, error) {
	if s.state != Disconnected {
		return nil, newError(ArgumentError, "transfer",
			errors.Wrapf(ErrInvalidTransition, "sender already used, state %s", s.state))
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, newError(ArgumentError, "config", err)
	}
	addr, err := transport.ParseAddress(serverAddress, uint16(s.cfg.ServerPort))
	if err != nil {
		return nil, newError(ArgumentError, "parse address", err)
	}

	if err := s.fire(EventConnect); err != nil {
		return nil, err
	}
	if err := s.t.Start(s.cfg.LocalPort); err != nil {
		return nil, newError(SetupError, "start", errors.Wrapf(err, "local port %d", s.cfg.LocalPort))
	}
	if err := s.t.Connect(addr); err != nil {
		return nil, newError(SetupError, "connect", errors.Wrapf(err, "connect to %s", addr))
	}
	if err := s.fire(EventConnected); err != nil {
		return nil, err
	}
	s.log.WithField("remote", addr.String()).Info("connected")

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, newError(FileAccessError, "read file", err)
	}

	res := &Result{
		SessionID:  s.id,
		Remote:     addr,
		RemoteAddr: addr.String(),
		FilePath:   filePath,
		FileSize:   uint64(len(data)),
		Checksum:   Checksum(data),
	}
	s.log.WithFields(logrus.Fields{
		"file":  filePath,
		"bytes": res.FileSize,
		"crc32": res.Checksum,
	}).Info("sending file")

	res.Start = time.Now()
	if err := s.fire(EventBegin); err != nil {
		return nil, err
	}
	if err := s.t.SendPacket(BuildMetadata(res.FileSize, res.Checksum)); err != nil {
		return nil, newError(TransportError, "send metadata", err)
	}
	if err := s.fire(EventMetadataSent); err != nil {
		return nil, err
	}

	total := ChunkCount(len(data), s.cfg.MaxPacketSize)
	for chunk := range Chunks(data, s.cfg.MaxPacketSize) {
		if err := s.t.SendPacket(chunk); err != nil {
			return nil, newError(TransportError, "send chunk",
				errors.Wrapf(err, "chunk %d/%d at offset %d", res.Chunks+1, total, res.BytesSent))
		}
		res.Chunks++
		res.BytesSent += uint64(len(chunk))
		s.log.WithFields(logrus.Fields{"chunk": res.Chunks, "of": total, "bytes": len(chunk)}).Debug("chunk sent")
		if s.cfg.PacingInterval > 0 {
			s.sleep(s.cfg.PacingInterval)
		}
	}
	if err := s.fire(EventPayloadSent); err != nil {
		return nil, err
	}

	outcome, ev := s.awaitAck()
	if err := s.fire(ev); err != nil {
		return nil, err
	}
	res.Outcome = outcome
	res.End = time.Now()
	res.Elapsed = res.End.Sub(res.Start)
	res.Mbps = Throughput(res.FileSize, res.Elapsed)

	fields := logrus.Fields{
		"bytes":   res.FileSize,
		"crc32":   res.Checksum,
		"elapsed": res.Elapsed,
		"mbps":    res.Mbps,
	}
	switch res.Outcome {
	case OutcomeConfirmed:
		s.log.WithFields(fields).Info("transfer confirmed")
	case OutcomeRejected:
		s.log.WithFields(fields).Warn("transfer rejected by receiver: checksum mismatch")
	default:
		s.log.WithFields(fields).Warn("transfer unconfirmed: no acknowledgment received")
	}
	return res, nil
}

// awaitAck reads the receiver's answer and returns the outcome with the
// event that records it.
func (s *Sender) awaitAck() (Outcome, Event) {
	buf := make([]byte, max(s.cfg.MaxPacketSize, len(AckDone)))
	n, err := s.t.ReceivePacket(buf)
	switch {
	case err != nil:
		s.log.WithError(err).Debug("no acknowledgment")
		return OutcomeUnconfirmed, EventAckMissing
	case bytes.Equal(buf[:n], AckDone):
		return OutcomeConfirmed, EventAckDone
	case bytes.Equal(buf[:n], AckFail):
		return OutcomeRejected, EventAckFail
	}
	s.log.WithField("bytes", n).Debug("unexpected acknowledgment")
	return OutcomeUnconfirmed, EventAckMissing
}

// Close shuts the transport down. It is valid in every state but Closed.
func (s *Sender) Close() error {
	if err := s.fire(EventClose); err != nil {
		return err
	}
	return s.t.Shutdown()
}
