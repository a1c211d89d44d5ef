// Package wire defines the framed message format shared by the broker and
// the clients.
//
// Every message on the stream is [id (4 bytes)][size (4 bytes)][body (size
// bytes)], all fixed-width fields little-endian. The body is built and torn
// down as a stack: values are appended at the tail and extracted from the
// tail, so decode pops fields in reverse push order. Variable-length fields
// carry their length pushed after the payload, which makes the length the
// first thing a decoder sees.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Message ids. The numeric values are part of the wire contract and must
// not be reordered.
type MsgID uint32

const (
	MsgAccept MsgID = iota
	MsgReject
	MsgSuccess
	MsgAbort
	MsgSend
	MsgRequestReceive
	MsgFinishReceive
	MsgFailedReceive
	MsgReceive
	MsgChunk
	MsgFinalChunk
)

func (id MsgID) String() string {
	switch id {
	case MsgAccept:
		return "Accept"
	case MsgReject:
		return "Reject"
	case MsgSuccess:
		return "Success"
	case MsgAbort:
		return "Abort"
	case MsgSend:
		return "Send"
	case MsgRequestReceive:
		return "RequestReceive"
	case MsgFinishReceive:
		return "FinishReceive"
	case MsgFailedReceive:
		return "FailedReceive"
	case MsgReceive:
		return "Receive"
	case MsgChunk:
		return "Chunk"
	case MsgFinalChunk:
		return "FinalChunk"
	}
	return "Unknown"
}

const (
	// HeaderSize is the fixed wire size of a message header.
	HeaderSize = 8

	// MaxBodySize caps a single message body. Chunks are bounded by the
	// broker's max chunk size which is far below this; the cap only guards
	// against garbage headers allocating unbounded memory.
	MaxBodySize = 16 * 1024 * 1024
)

var (
	ErrBodyTooLarge  = errors.New("wire: message body exceeds limit")
	ErrBodyUnderflow = errors.New("wire: not enough body bytes to pop")
)

// Message is one framed wire unit.
type Message struct {
	ID   MsgID
	Body []byte
}

// Size returns the body length as it appears in the header.
func (m *Message) Size() uint32 {
	return uint32(len(m.Body))
}

// PushU8 appends a byte at the body tail.
func (m *Message) PushU8(v uint8) {
	m.Body = append(m.Body, v)
}

// PushU32 appends a little-endian uint32 at the body tail.
func (m *Message) PushU32(v uint32) {
	m.Body = binary.LittleEndian.AppendUint32(m.Body, v)
}

// PushU64 appends a little-endian uint64 at the body tail.
func (m *Message) PushU64(v uint64) {
	m.Body = binary.LittleEndian.AppendUint64(m.Body, v)
}

// PushBytes appends raw bytes at the body tail. A zero-length slice is a
// no-op, matching the pop side which never consumes zero-length fields.
func (m *Message) PushBytes(b []byte) {
	m.Body = append(m.Body, b...)
}

// PopU8 extracts a byte from the body tail.
func (m *Message) PopU8() (uint8, error) {
	if len(m.Body) < 1 {
		return 0, ErrBodyUnderflow
	}
	v := m.Body[len(m.Body)-1]
	m.Body = m.Body[:len(m.Body)-1]
	return v, nil
}

// PopU32 extracts a little-endian uint32 from the body tail.
func (m *Message) PopU32() (uint32, error) {
	if len(m.Body) < 4 {
		return 0, ErrBodyUnderflow
	}
	off := len(m.Body) - 4
	v := binary.LittleEndian.Uint32(m.Body[off:])
	m.Body = m.Body[:off]
	return v, nil
}

// PopU64 extracts a little-endian uint64 from the body tail.
func (m *Message) PopU64() (uint64, error) {
	if len(m.Body) < 8 {
		return 0, ErrBodyUnderflow
	}
	off := len(m.Body) - 8
	v := binary.LittleEndian.Uint64(m.Body[off:])
	m.Body = m.Body[:off]
	return v, nil
}

// PopBytes extracts n bytes from the body tail.
func (m *Message) PopBytes(n int) ([]byte, error) {
	if n < 0 || len(m.Body) < n {
		return nil, ErrBodyUnderflow
	}
	if n == 0 {
		return nil, nil
	}
	off := len(m.Body) - n
	v := make([]byte, n)
	copy(v, m.Body[off:])
	m.Body = m.Body[:off]
	return v, nil
}

// WriteMessage writes header and body to w in wire order.
func WriteMessage(w io.Writer, m *Message) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(hdr[4:8], m.Size())
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.Body) == 0 {
		return nil
	}
	_, err := w.Write(m.Body)
	return err
}

// ReadMessage reads exactly one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	msg := Message{ID: MsgID(binary.LittleEndian.Uint32(hdr[0:4]))}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size > MaxBodySize {
		return Message{}, ErrBodyTooLarge
	}
	if size == 0 {
		return msg, nil
	}
	msg.Body = make([]byte, size)
	if _, err := io.ReadFull(r, msg.Body); err != nil {
		return Message{}, err
	}
	return msg, nil
}
