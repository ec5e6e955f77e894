// Package transport moves JSON-RPC payloads between client and server over TCP.
//
// Every payload travels inside a frame: a fixed 13-byte header followed by a
// variable-length body. The receiver reads the header first to learn the body
// length, then reads exactly that many bytes, so message boundaries never depend
// on timing.
//
// Frame format:
//
//	0      3  4  5         9         13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │mt│   seq   │ bodyLen │    body ...    │
//	│ jrp  │01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "jrp".
// Used to reject non-protocol connections (e.g., HTTP clients hitting the wrong port)
// before trusting the length field.
const (
	MagicNumber byte = 0x6a // 'j'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 13 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// DefaultMaxBodySize bounds the allocation made for a single frame body.
	DefaultMaxBodySize uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server JSON-RPC request or notification
	MsgTypeResponse  MsgType = 1 // Server → Client JSON-RPC response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe on persistent connections (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("MsgType(%d)", byte(t))
}

// Header represents the fixed frame header.
type Header struct {
	MsgType MsgType
	Seq     uint32 // Matches a response to its request on multiplexed connections
	BodyLen uint32
}

// FrameError reports a frame that violates the header rules.
// The stream cannot be trusted after one.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "transport: invalid frame: " + e.Reason
}

// WriteFrame writes a complete frame (header + body) to w. BodyLen is taken from body.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func WriteFrame(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One Write per frame keeps header and body in the same segment where possible.
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads a complete frame from r.
// It validates the magic number, version, message type and body length.
// io.EOF is returned unchanged when r ends cleanly before the first header byte.
func ReadFrame(r io.Reader, maxBody uint32) (*Header, []byte, error) {
	if maxBody == 0 {
		maxBody = DefaultMaxBodySize
	}

	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, &FrameError{Reason: fmt.Sprintf("invalid magic number: %x", headerBuf[0:3])}
	}
	if headerBuf[3] != Version {
		return nil, nil, &FrameError{Reason: fmt.Sprintf("unsupported version: %d", headerBuf[3])}
	}

	msgType := MsgType(headerBuf[4])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, &FrameError{Reason: fmt.Sprintf("unsupported message type: %d", headerBuf[4])}
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])
	if bodyLen > maxBody {
		return nil, nil, &FrameError{Reason: fmt.Sprintf("body of %d bytes exceeds limit of %d", bodyLen, maxBody)}
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, nil, err
	}

	return &Header{MsgType: msgType, Seq: seq, BodyLen: bodyLen}, body, nil
}
