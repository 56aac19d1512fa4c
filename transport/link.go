package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// Link carries unreliable datagrams between two endpoints.
type Link interface {
	// Send transmits one frame to the given address. Point-to-point links
	// ignore the address.
	Send(frame []byte, to Address) error
	// Recv waits up to timeout for one frame. On timeout it returns an empty
	// frame and a nil error.
	Recv(timeout time.Duration) ([]byte, Address, error)
	Close() error
}

// LinkOpener opens a Link bound to a local port.
type LinkOpener func(localPort int) (Link, error)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// ---------------------
// UDP
// ---------------------

type udpLink struct {
	conn *net.UDPConn
	buf  []byte
}

// UDP returns an opener for IPv4 UDP sockets.
func UDP() LinkOpener {
	return func(localPort int) (Link, error) {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
		if err != nil {
			return nil, errors.Wrapf(err, "listen udp port %d", localPort)
		}
		return &udpLink{conn: conn, buf: make([]byte, maxDatagram)}, nil
	}
}

func (u *udpLink) Send(frame []byte, to Address) error {
	_, err := u.conn.WriteToUDP(frame, to.UDPAddr())
	return err
}

func (u *udpLink) Recv(timeout time.Duration) ([]byte, Address, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, Address{}, err
	}
	n, from, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		if nErr, ok := err.(net.Error); ok && nErr.Timeout() {
			return []byte{}, Address{}, nil
		}
		return nil, Address{}, err
	}
	frame := make([]byte, n)
	copy(frame, u.buf[:n])
	return frame, AddressFromUDP(from), nil
}

func (u *udpLink) Close() error {
	return u.conn.Close()
}
