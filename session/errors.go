package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failed transfer for the command-line tools.
type Kind int

const (
	KindUnknown Kind = iota
	// ArgumentError is bad usage or a malformed address, found before any
	// network activity.
	ArgumentError
	// SetupError is a transport start, listen or connect failure.
	SetupError
	// FileAccessError is a file that cannot be read or written.
	FileAccessError
	// ProtocolError is a message that does not fit the session layout.
	ProtocolError
	// TransportError is a send or receive failure once the session is running.
	TransportError
)

func (k Kind) String() string {
	switch k {
	case ArgumentError:
		return "argument error"
	case SetupError:
		return "setup error"
	case FileAccessError:
		return "file access error"
	case ProtocolError:
		return "protocol error"
	case TransportError:
		return "transport error"
	}
	return "unknown error"
}

// Error is returned by the session drivers. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause reach the underlying failure.
func (e *Error) Cause() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
