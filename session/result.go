package session

import (
	"time"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

// Outcome is how a fully sent transfer ended from the sender's view.
type Outcome int

const (
	OutcomeConfirmed   Outcome = iota // DONE received
	OutcomeUnconfirmed                // no valid acknowledgment
	OutcomeRejected                   // FAIL received
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeRejected:
		return "rejected"
	}
	return "invalid"
}

// MarshalText renders the outcome by name in JSON reports.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// minElapsed bounds the divisor of Throughput.
const minElapsed = time.Microsecond

// Throughput is size bytes over elapsed in megabits per second. Elapsed
// times under a microsecond count as one, so the value is always finite.
func Throughput(size uint64, elapsed time.Duration) float64 {
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(size) * 8 / (elapsed.Seconds() * 1e6)
}

// Result describes one sender transfer.
type Result struct {
	SessionID  string            `json:"session_id"`
	Remote     transport.Address `json:"-"`
	RemoteAddr string            `json:"remote"`
	FilePath   string            `json:"file"`
	FileSize   uint64            `json:"size"`
	Checksum   uint32            `json:"crc32"`
	Chunks     int               `json:"chunks"`
	BytesSent  uint64            `json:"bytes_sent"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Elapsed    time.Duration     `json:"elapsed_ns"`
	Mbps       float64           `json:"mbps"`
	Outcome    Outcome           `json:"outcome"`
}

// Verdict is what the receiver answered.
type Verdict int

const (
	VerdictAcknowledged Verdict = iota // checksum matched, DONE sent
	VerdictWithheld                    // mismatch, no answer
	VerdictRejected                    // mismatch, FAIL sent
)

func (v Verdict) String() string {
	switch v {
	case VerdictAcknowledged:
		return "acknowledged"
	case VerdictWithheld:
		return "withheld"
	case VerdictRejected:
		return "rejected"
	}
	return "invalid"
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Receipt describes one received transfer.
type Receipt struct {
	SessionID     string        `json:"session_id"`
	Remote        string        `json:"remote"`
	DeclaredSize  uint64        `json:"size"`
	Declared      uint32        `json:"crc32_declared"`
	Computed      uint32        `json:"crc32_computed"`
	BytesReceived uint64        `json:"bytes_received"`
	Packets       int           `json:"packets"`
	OutputPath    string        `json:"output,omitempty"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	Mbps          float64       `json:"mbps"`
	Verdict       Verdict       `json:"verdict"`
}

// Match reports whether the computed checksum equals the declared one.
func (r *Receipt) Match() bool { return r.Declared == r.Computed }
