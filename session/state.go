package session

import "github.com/pkg/errors"

// State is a step of the sender's lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	SendingMetadata
	SendingPayload
	AwaitingAck
	Confirmed
	Unconfirmed
	Rejected
	Closed
)

var stateNames = [...]string{
	Disconnected:    "disconnected",
	Connecting:      "connecting",
	Connected:       "connected",
	SendingMetadata: "sending-metadata",
	SendingPayload:  "sending-payload",
	AwaitingAck:     "awaiting-ack",
	Confirmed:       "confirmed",
	Unconfirmed:     "unconfirmed",
	Rejected:        "rejected",
	Closed:          "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// Event drives Transition.
type Event int

const (
	EventConnect Event = iota
	EventConnected
	EventBegin        // file loaded and clock started
	EventMetadataSent // metadata handed to the transport
	EventPayloadSent  // last chunk handed to the transport
	EventAckDone
	EventAckFail
	EventAckMissing // timeout, closed transport or unexpected bytes
	EventClose
)

var eventNames = [...]string{
	EventConnect:      "connect",
	EventConnected:    "connected",
	EventBegin:        "begin",
	EventMetadataSent: "metadata-sent",
	EventPayloadSent:  "payload-sent",
	EventAckDone:      "ack-done",
	EventAckFail:      "ack-fail",
	EventAckMissing:   "ack-missing",
	EventClose:        "close",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "invalid"
	}
	return eventNames[e]
}

// ErrInvalidTransition is returned by Transition for an event the state
// does not accept.
var ErrInvalidTransition = errors.New("invalid state transition")

type edge struct {
	from State
	ev   Event
}

var transitions = map[edge]State{
	{Disconnected, EventConnect}:         Connecting,
	{Connecting, EventConnected}:         Connected,
	{Connected, EventBegin}:              SendingMetadata,
	{SendingMetadata, EventMetadataSent}: SendingPayload,
	{SendingPayload, EventPayloadSent}:   AwaitingAck,
	{AwaitingAck, EventAckDone}:          Confirmed,
	{AwaitingAck, EventAckFail}:          Rejected,
	{AwaitingAck, EventAckMissing}:       Unconfirmed,
}

// Transition returns the state reached from s on ev. It has no side effects.
func Transition(s State, ev Event) (State, error) {
	if ev == EventClose {
		if s == Closed {
			return s, errors.Wrapf(ErrInvalidTransition, "%s on %s", ev, s)
		}
		return Closed, nil
	}
	next, ok := transitions[edge{s, ev}]
	if !ok {
		return s, errors.Wrapf(ErrInvalidTransition, "%s on %s", ev, s)
	}
	return next, nil
}
