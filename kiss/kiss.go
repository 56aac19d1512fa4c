// kiss.go
package kiss

import (
	"bytes"
)

// ---------------------
// KISS Constants
// ---------------------

const (
	FEND    = 0xC0 // frame delimiter
	FESC    = 0xDB
	TFEND   = 0xDC
	TFESC   = 0xDD
	CmdData = 0x00
)

// ---------------------
// Escaping
// ---------------------

// Escape escapes any KISS special bytes so that framing is preserved.
func Escape(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))
	for _, b := range data {
		switch b {
		case FEND:
			out.Write([]byte{FESC, TFEND})
		case FESC:
			out.Write([]byte{FESC, TFESC})
		default:
			out.WriteByte(b)
		}
	}
	return out.Bytes()
}

// Unescape reverses Escape. A dangling or unknown escape sequence is copied
// through unchanged.
func Unescape(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))
	for i := 0; i < len(data); {
		b := data[i]
		if b == FESC && i+1 < len(data) {
			switch data[i+1] {
			case TFEND:
				out.WriteByte(FEND)
				i += 2
				continue
			case TFESC:
				out.WriteByte(FESC)
				i += 2
				continue
			}
		}
		out.WriteByte(b)
		i++
	}
	return out.Bytes()
}

// ---------------------
// Framing
// ---------------------

// BuildFrame wraps a packet in a KISS data frame: FEND, command byte,
// escaped payload, FEND.
func BuildFrame(packet []byte) []byte {
	escaped := Escape(packet)
	frame := make([]byte, 0, len(escaped)+3)
	frame = append(frame, FEND, CmdData)
	frame = append(frame, escaped...)
	frame = append(frame, FEND)
	return frame
}

// ExtractFrames extracts complete frames (delimiters included) from buf and
// returns them along with the bytes that do not yet form a complete frame.
func ExtractFrames(buf []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		start := bytes.IndexByte(buf, FEND)
		if start == -1 {
			return frames, nil
		}
		end := bytes.IndexByte(buf[start+1:], FEND)
		if end == -1 {
			return frames, buf[start:]
		}
		if end == 0 {
			// back-to-back FENDs: the second one opens the next frame
			buf = buf[start+1:]
			continue
		}
		end = start + 1 + end
		frames = append(frames, buf[start:end+1])
		buf = buf[end+1:]
	}
}

// DecodeFrame strips the delimiters and command byte from a frame returned
// by ExtractFrames and unescapes the payload. ok is false for frames that
// are empty or are not data frames.
func DecodeFrame(frame []byte) (packet []byte, ok bool) {
	if len(frame) < 3 || frame[0] != FEND || frame[len(frame)-1] != FEND {
		return nil, false
	}
	inner := frame[1 : len(frame)-1]
	if inner[0] != CmdData || len(inner) < 2 {
		return nil, false
	}
	return Unescape(inner[1:]), true
}
