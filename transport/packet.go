package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet [protocolId 4] [kind 1] [seq 4] [payload n], big-endian.
const headerSize = 4 + 1 + 4

type kind byte

const (
	kindData kind = iota + 1
	kindAck
	kindKeepAlive
)

func (k kind) String() string {
	switch k {
	case kindData:
		return "data"
	case kindAck:
		return "ack"
	case kindKeepAlive:
		return "keepalive"
	}
	return "unknown"
}

var (
	errShortPacket    = errors.New("packet shorter than header")
	errForeignPacket  = errors.New("protocol id mismatch")
	errUnknownKind    = errors.New("unknown packet kind")
	errUnexpectedBody = errors.New("payload on control packet")
)

type envelope struct {
	kind    kind
	seq     uint32
	payload []byte
}

func encodeEnvelope(protocolID uint32, e envelope) []byte {
	buf := make([]byte, headerSize+len(e.payload))
	binary.BigEndian.PutUint32(buf[0:4], protocolID)
	buf[4] = byte(e.kind)
	binary.BigEndian.PutUint32(buf[5:9], e.seq)
	copy(buf[headerSize:], e.payload)
	return buf
}

// decodeEnvelope parses raw. The payload aliases raw.
func decodeEnvelope(protocolID uint32, raw []byte) (envelope, error) {
	if len(raw) < headerSize {
		return envelope{}, errShortPacket
	}
	if binary.BigEndian.Uint32(raw[0:4]) != protocolID {
		return envelope{}, errForeignPacket
	}
	e := envelope{
		kind:    kind(raw[4]),
		seq:     binary.BigEndian.Uint32(raw[5:9]),
		payload: raw[headerSize:],
	}
	switch e.kind {
	case kindData:
	case kindAck, kindKeepAlive:
		if len(e.payload) != 0 {
			return envelope{}, errUnexpectedBody
		}
	default:
		return envelope{}, errors.Wrapf(errUnknownKind, "%d", raw[4])
	}
	return e, nil
}
