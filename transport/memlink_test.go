package transport

import (
	"net"
	"sync"
	"time"
)

type memFrame struct {
	from  Address
	frame []byte
}

// memNetwork connects memLinks by address. filter, when set, decides per
// frame whether it is lost.
type memNetwork struct {
	mu     sync.Mutex
	links  map[Address]*memLink
	filter func(from, to Address, frame []byte) (drop bool)
}

func newMemNetwork() *memNetwork {
	return &memNetwork{links: make(map[Address]*memLink)}
}

func (n *memNetwork) setFilter(f func(from, to Address, frame []byte) bool) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

func (n *memNetwork) opener(host Address) LinkOpener {
	return func(localPort int) (Link, error) {
		addr := host
		addr.Port = uint16(localPort)
		l := &memLink{
			net:  n,
			addr: addr,
			in:   make(chan memFrame, 4096),
			done: make(chan struct{}),
		}
		n.mu.Lock()
		n.links[addr] = l
		n.mu.Unlock()
		return l, nil
	}
}

type memLink struct {
	net  *memNetwork
	addr Address
	in   chan memFrame
	done chan struct{}
	once sync.Once
}

func (l *memLink) Send(frame []byte, to Address) error {
	select {
	case <-l.done:
		return net.ErrClosed
	default:
	}
	l.net.mu.Lock()
	dst := l.net.links[to]
	drop := l.net.filter != nil && l.net.filter(l.addr, to, frame)
	l.net.mu.Unlock()
	if dst == nil || drop {
		return nil
	}
	select {
	case dst.in <- memFrame{from: l.addr, frame: clone(frame)}:
	default:
	}
	return nil
}

func (l *memLink) Recv(timeout time.Duration) ([]byte, Address, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-l.in:
		return f.frame, f.from, nil
	case <-l.done:
		return nil, Address{}, net.ErrClosed
	case <-timer.C:
		return []byte{}, Address{}, nil
	}
}

func (l *memLink) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.net.mu.Lock()
		delete(l.net.links, l.addr)
		l.net.mu.Unlock()
	})
	return nil
}
