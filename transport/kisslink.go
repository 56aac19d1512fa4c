package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/kiss"
)

// kissLink sends datagrams as KISS frames over a byte stream: a TNC
// reachable over TCP or a serial port. The stream is point-to-point so every
// received frame is attributed to the same peer.
type kissLink struct {
	rw     io.ReadWriteCloser
	peer   Address
	frames chan []byte
	done   chan struct{}
	lock   sync.Mutex
	once   sync.Once
	log    logrus.FieldLogger
}

// KISSTCP returns an opener that connects to a KISS TNC listening on
// host:port. The local port is not used.
func KISSTCP(host string, port int, log logrus.FieldLogger) LinkOpener {
	return func(int) (Link, error) {
		addr := net.JoinHostPort(host, fmt.Sprint(port))
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "dial TNC %s", addr)
		}
		log = orStandard(log)
		log.WithField("tnc", addr).Info("Connected to TNC over TCP")
		return newKISSLink(conn, log), nil
	}
}

// KISSSerial returns an opener for a KISS TNC on a serial port (8N1).
func KISSSerial(portName string, baud int, log logrus.FieldLogger) LinkOpener {
	return func(int) (Link, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "open serial port %s", portName)
		}
		if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
			port.Close()
			return nil, errors.Wrap(err, "set serial read timeout")
		}
		log = orStandard(log)
		log.WithFields(logrus.Fields{"port": portName, "baud": baud}).Info("Opened serial port")
		return newKISSLink(port, log), nil
	}
}

// KISSStream returns an opener over an already open byte stream. The
// stream is closed with the link.
func KISSStream(rw io.ReadWriteCloser, log logrus.FieldLogger) LinkOpener {
	return func(int) (Link, error) {
		return newKISSLink(rw, orStandard(log)), nil
	}
}

func newKISSLink(rw io.ReadWriteCloser, log logrus.FieldLogger) *kissLink {
	l := &kissLink{
		rw:     rw,
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
		log:    log,
	}
	go l.readLoop()
	return l
}

// readLoop reassembles frames from the stream and queues their payloads.
func (l *kissLink) readLoop() {
	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := l.rw.Read(buf)
		if err != nil {
			select {
			case <-l.done:
			default:
				if err != io.EOF {
					l.log.WithError(err).Warn("KISS link read failed")
				}
				l.Close()
			}
			return
		}
		if n == 0 {
			continue
		}
		pending = append(pending, buf[:n]...)
		var frames [][]byte
		frames, pending = kiss.ExtractFrames(pending)
		for _, f := range frames {
			packet, ok := kiss.DecodeFrame(f)
			if !ok {
				continue
			}
			select {
			case l.frames <- packet:
			case <-l.done:
				return
			}
		}
	}
}

// Send remembers the last non-zero destination so that received frames can
// be attributed to the peer the caller connected to.
func (l *kissLink) Send(frame []byte, to Address) error {
	select {
	case <-l.done:
		return net.ErrClosed
	default:
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if !to.IsZero() {
		l.peer = to
	}
	_, err := l.rw.Write(kiss.BuildFrame(frame))
	return err
}

func (l *kissLink) Recv(timeout time.Duration) ([]byte, Address, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-l.frames:
		l.lock.Lock()
		peer := l.peer
		l.lock.Unlock()
		return f, peer, nil
	case <-l.done:
		return nil, Address{}, net.ErrClosed
	case <-timer.C:
		return []byte{}, Address{}, nil
	}
}

func (l *kissLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.rw.Close()
	})
	return err
}

func orStandard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logrus.StandardLogger()
	}
	return log
}
