package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

// maxPrealloc caps the buffer reserved up front for a declared file size.
const maxPrealloc = 64 << 20

// Observer is told about a transfer while the receiver runs it. Calls come
// from the goroutine running ReceiveFile.
type Observer interface {
	OnMetadata(sessionID, remote string, md Metadata)
	OnProgress(sessionID string, received, total uint64)
	OnComplete(r *Receipt)
}

// remoteAddresser is implemented by transports that know their peer.
type remoteAddresser interface {
	RemoteAddr() transport.Address
}

// Receiver accepts one transfer over a transport.
type Receiver struct {
	t         transport.Transport
	cfg       Config
	log       logrus.FieldLogger
	observers []Observer
}

func NewReceiver(t transport.Transport, cfg Config, log logrus.FieldLogger) *Receiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Receiver{t: t, cfg: cfg, log: log}
}

// Observe registers o for every following transfer.
func (r *Receiver) Observe(o Observer) {
	r.observers = append(r.observers, o)
}

// ReceiveFile listens on Config.ServerPort, takes one transfer and, when
// the checksum matches, writes it to outputPath and acknowledges it. A
// checksum mismatch is reported in the receipt's verdict.
func (r *Receiver) ReceiveFile(outputPath string) (*Receipt, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, newError(ArgumentError, "config", err)
	}
	if err := r.t.Start(r.cfg.ServerPort); err != nil {
		return nil, newError(SetupError, "start", errors.Wrapf(err, "port %d", r.cfg.ServerPort))
	}
	if err := r.t.Listen(); err != nil {
		return nil, newError(SetupError, "listen", err)
	}
	r.log.WithField("port", r.cfg.ServerPort).Info("waiting for sender")

	buf := make([]byte, max(r.cfg.MaxPacketSize, MetadataSize))
	md, err := r.awaitMetadata(buf)
	if err != nil {
		return nil, err
	}

	rc := &Receipt{
		SessionID:    uuid.New().String(),
		DeclaredSize: md.FileSize,
		Declared:     md.Checksum,
		Start:        time.Now(),
		Packets:      1,
	}
	if ra, ok := r.t.(remoteAddresser); ok {
		rc.Remote = ra.RemoteAddr().String()
	}
	log := r.log.WithField("session", rc.SessionID)
	log.WithFields(logrus.Fields{
		"remote": rc.Remote,
		"bytes":  md.FileSize,
		"crc32":  md.Checksum,
	}).Info("incoming file")
	for _, o := range r.observers {
		o.OnMetadata(rc.SessionID, rc.Remote, md)
	}

	data, err := r.receivePayload(buf, rc, log)
	if err != nil {
		return nil, err
	}
	rc.End = time.Now()
	rc.Elapsed = rc.End.Sub(rc.Start)
	rc.Mbps = Throughput(rc.BytesReceived, rc.Elapsed)
	rc.Computed = Checksum(data)

	if rc.Match() {
		path := outputPath
		if !r.cfg.Replace {
			path = uniqueName(outputPath)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, newError(FileAccessError, "write file", err)
		}
		rc.OutputPath = path
		if err := r.t.SendPacket(AckDone); err != nil {
			return nil, newError(TransportError, "send ack", err)
		}
		rc.Verdict = VerdictAcknowledged
		log.WithFields(logrus.Fields{
			"file":    path,
			"bytes":   rc.BytesReceived,
			"elapsed": rc.Elapsed,
			"mbps":    rc.Mbps,
		}).Info("file received")
	} else {
		fields := logrus.Fields{"declared": rc.Declared, "computed": rc.Computed}
		if r.cfg.NegativeAck {
			if err := r.t.SendPacket(AckFail); err != nil {
				return nil, newError(TransportError, "send negative ack", err)
			}
			rc.Verdict = VerdictRejected
			log.WithFields(fields).Warn("checksum mismatch, transfer rejected")
		} else {
			rc.Verdict = VerdictWithheld
			log.WithFields(fields).Warn("checksum mismatch, acknowledgment withheld")
		}
	}

	if f, ok := r.t.(transport.Flusher); ok && rc.Verdict != VerdictWithheld {
		if err := f.Flush(r.cfg.FlushTimeout); err != nil {
			log.WithError(err).Warn("acknowledgment may not have been delivered")
		}
	}
	for _, o := range r.observers {
		o.OnComplete(rc)
	}
	return rc, nil
}

// awaitMetadata blocks until the first message arrives. Timeouts before a
// sender shows up are not errors.
func (r *Receiver) awaitMetadata(buf []byte) (Metadata, error) {
	for {
		n, err := r.t.ReceivePacket(buf)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			r.log.Debug("no sender yet")
			continue
		case errors.Is(err, io.ErrShortBuffer):
			return Metadata{}, newError(ProtocolError, "receive metadata", err)
		case err != nil:
			return Metadata{}, newError(TransportError, "receive metadata", err)
		}
		md, err := ParseMetadata(buf[:n])
		if err != nil {
			return Metadata{}, newError(ProtocolError, "receive metadata", err)
		}
		return md, nil
	}
}

func (r *Receiver) receivePayload(buf []byte, rc *Receipt, log logrus.FieldLogger) ([]byte, error) {
	data := make([]byte, 0, min(rc.DeclaredSize, maxPrealloc))
	for uint64(len(data)) < rc.DeclaredSize {
		n, err := r.t.ReceivePacket(buf)
		switch {
		case errors.Is(err, io.ErrShortBuffer):
			return nil, newError(ProtocolError, "receive payload",
				errors.Wrapf(err, "chunk larger than %d bytes", len(buf)))
		case err != nil:
			return nil, newError(TransportError, "receive payload",
				errors.Wrapf(err, "after %d of %d bytes", len(data), rc.DeclaredSize))
		}
		if uint64(len(data))+uint64(n) > rc.DeclaredSize {
			return nil, newError(ProtocolError, "receive payload",
				errors.Errorf("chunk of %d bytes overruns declared size %d at %d", n, rc.DeclaredSize, len(data)))
		}
		data = append(data, buf[:n]...)
		rc.Packets++
		rc.BytesReceived = uint64(len(data))
		log.WithFields(logrus.Fields{"bytes": n, "received": rc.BytesReceived}).Debug("chunk received")
		for _, o := range r.observers {
			o.OnProgress(rc.SessionID, rc.BytesReceived, rc.DeclaredSize)
		}
	}
	return data, nil
}

// uniqueName returns path, or path with _1, _2, ... inserted before the
// extension when a file of that name already exists.
func uniqueName(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	name := path
	for cnt := 1; ; cnt++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", base, cnt, ext)
	}
}
