// Package session implements the client-side chunked transfer loops: the
// sender streams a byte source as hashed chunks, the receiver verifies and
// persists them.
package session

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/wire"
)

// Emitter posts one message toward the broker. False means the transport
// refused it and the session must stop.
type Emitter func(wire.Message) bool

// Sender streams a finite byte source as Chunk messages with SHA-256
// trailers, terminated by FinalChunk.
type Sender struct {
	payloadType  wire.PayloadType
	src          io.ReadCloser
	maxChunkSize uint64
	send         Emitter
	inbound      *transport.Queue
	log          *logrus.Entry
}

func NewSender(pt wire.PayloadType, src io.ReadCloser, maxChunkSize uint64, inbound *transport.Queue, send Emitter) *Sender {
	return &Sender{
		payloadType:  pt,
		src:          src,
		maxChunkSize: maxChunkSize,
		send:         send,
		inbound:      inbound,
		log:          logrus.WithField("component", "sender-session"),
	}
}

// Run drives the chunk loop. FinalChunk is emitted regardless of the
// outcome and the source is closed. The caller still has to wait for the
// broker's Success or Abort; true here only means every chunk was emitted.
func (s *Sender) Run() bool {
	defer s.src.Close()

	buf := make([]byte, s.maxChunkSize)
	ok := true

	for ok {
		if !s.drainInbound() {
			ok = false
			break
		}

		n, err := io.ReadFull(s.src, buf)
		if n == 0 {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				s.log.WithError(err).Error("source read failed")
				ok = false
			}
			break
		}

		if !s.send(wire.NewChunk(buf[:n])) {
			s.log.Error("transport refused chunk")
			ok = false
			break
		}
	}

	s.send(wire.Message{ID: wire.MsgFinalChunk})
	return ok
}

// drainInbound consumes any queued messages. An Abort or a connection drop
// stops the session; everything else mid-transfer is unexpected and skipped.
func (s *Sender) drainInbound() bool {
	for {
		om, found := s.inbound.PopFront()
		if !found {
			return true
		}
		switch om.Msg.ID {
		case wire.MsgAbort:
			s.log.Info("abort received mid-transfer")
			return false
		case transport.Disconnected:
			s.log.Warn("connection dropped mid-transfer")
			return false
		default:
			s.log.WithField("id", om.Msg.ID.String()).Warn("skipped unexpected message")
		}
	}
}
