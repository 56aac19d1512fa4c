// Package monitor serves the receiver's state over HTTP: a JSON status and
// history API, and a Socket.IO feed of transfer events for browsers.
package monitor

import (
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
)

// Socket.IO event names.
const (
	EventMetadata = "metadata"
	EventProgress = "progress"
	EventComplete = "complete"
)

const (
	phaseIdle      = "idle"
	phaseReceiving = "receiving"
	phaseComplete  = "complete"
)

// Status is the current transfer as reported by GET /status.
type Status struct {
	Phase    string    `json:"phase"`
	Session  string    `json:"session,omitempty"`
	Remote   string    `json:"remote,omitempty"`
	Received uint64    `json:"received"`
	Total    uint64    `json:"total"`
	Percent  float64   `json:"percent"`
	Checksum uint32    `json:"crc32"`
	Started  time.Time `json:"started,omitempty"`
	Verdict  string    `json:"verdict,omitempty"`
}

type event struct {
	name string
	data interface{}
}

// Monitor collects receiver events. It implements session.Observer.
type Monitor struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	status  Status
	history *lru.Cache // session id -> *session.Receipt

	engine    http.Handler // Engine.IO transport under /socket.io/
	io        *socket.Server
	clientsMu sync.Mutex
	clients   []*socket.Socket
	events    chan event
	done      chan struct{}
	closeOnce sync.Once
}

var _ session.Observer = (*Monitor)(nil)

// New returns a monitor remembering the last historySize receipts.
func New(historySize int, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if historySize <= 0 {
		historySize = 32
	}
	history, _ := lru.New(historySize)
	m := &Monitor{
		log:     log,
		status:  Status{Phase: phaseIdle},
		history: history,
		events:  make(chan event, 256),
		done:    make(chan struct{}),
	}

	engineServer := types.CreateServer(nil)
	m.engine = engineServer
	m.io = socket.NewServer(engineServer, nil)
	m.io.On("connection", func(args ...any) {
		client := args[0].(*socket.Socket)
		m.clientsMu.Lock()
		m.clients = append(m.clients, client)
		n := len(m.clients)
		m.clientsMu.Unlock()
		m.log.WithFields(logrus.Fields{"client": client.Id(), "clients": n}).Info("Socket.IO client connected")

		client.On("disconnect", func(...any) {
			m.clientsMu.Lock()
			for i, c := range m.clients {
				if c == client {
					m.clients = append(m.clients[:i], m.clients[i+1:]...)
					break
				}
			}
			m.clientsMu.Unlock()
			m.log.WithField("client", client.Id()).Info("Socket.IO client disconnected")
		})
	})

	go m.broadcast()
	return m
}

// broadcast forwards queued events to every Socket.IO client.
func (m *Monitor) broadcast() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.clientsMu.Lock()
			clients := append([]*socket.Socket(nil), m.clients...)
			m.clientsMu.Unlock()
			for _, c := range clients {
				if err := c.Emit(ev.name, ev.data); err != nil {
					m.log.WithError(err).WithField("client", c.Id()).Warn("error broadcasting to client")
				}
			}
		}
	}
}

// publish queues an event, dropping it when the feed is backed up.
func (m *Monitor) publish(name string, data interface{}) {
	select {
	case m.events <- event{name, data}:
	default:
		m.log.WithField("event", name).Debug("event feed full, dropping")
	}
}

func (m *Monitor) OnMetadata(sessionID, remote string, md session.Metadata) {
	m.mu.Lock()
	m.status = Status{
		Phase:    phaseReceiving,
		Session:  sessionID,
		Remote:   remote,
		Total:    md.FileSize,
		Checksum: md.Checksum,
		Started:  time.Now(),
	}
	if md.FileSize == 0 {
		m.status.Percent = 100
	}
	st := m.status
	m.mu.Unlock()
	m.publish(EventMetadata, st)
}

func (m *Monitor) OnProgress(sessionID string, received, total uint64) {
	m.mu.Lock()
	m.status.Received = received
	m.status.Total = total
	m.status.Percent = percent(received, total)
	st := m.status
	m.mu.Unlock()
	m.publish(EventProgress, st)
}

func (m *Monitor) OnComplete(r *session.Receipt) {
	m.mu.Lock()
	m.status.Phase = phaseComplete
	m.status.Received = r.BytesReceived
	m.status.Percent = percent(r.BytesReceived, r.DeclaredSize)
	m.status.Verdict = r.Verdict.String()
	m.mu.Unlock()
	m.history.Add(r.SessionID, r)
	m.publish(EventComplete, r)
}

func percent(received, total uint64) float64 {
	if total == 0 {
		return 100
	}
	return float64(received) * 100 / float64(total)
}

// Status returns a snapshot of the current transfer.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transfers returns the remembered receipts, newest first.
func (m *Monitor) Transfers() []*session.Receipt {
	keys := m.history.Keys()
	out := make([]*session.Receipt, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := m.history.Peek(keys[i]); ok {
			out = append(out, v.(*session.Receipt))
		}
	}
	return out
}

// Clients is the number of connected Socket.IO clients.
func (m *Monitor) Clients() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// Close stops the event feed and disconnects every Socket.IO client.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.io.Close(nil)
	})
}
