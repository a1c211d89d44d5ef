package session

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/wire"
)

// SinkOpener produces the byte sink the received file is appended to. It
// runs once, at session start.
type SinkOpener func() (io.WriteCloser, error)

// Receiver consumes relayed chunks, verifies each SHA-256 trailer and
// appends the payload to the sink.
type Receiver struct {
	payloadType wire.PayloadType
	openSink    SinkOpener
	inbound     *transport.Queue
	send        Emitter
	log         *logrus.Entry
}

func NewReceiver(pt wire.PayloadType, openSink SinkOpener, inbound *transport.Queue, send Emitter) *Receiver {
	return &Receiver{
		payloadType: pt,
		openSink:    openSink,
		inbound:     inbound,
		send:        send,
		log:         logrus.WithField("component", "receiver-session"),
	}
}

// Run drives the receive loop until FinalChunk, an abort, an integrity
// failure or a sink failure. True means the sink holds the complete file
// and was closed cleanly; the caller then emits FinishReceive and flushes.
func (r *Receiver) Run() bool {
	sink, err := r.openSink()
	if err != nil {
		r.log.WithError(err).Error("cannot open sink")
		r.send(wire.Message{ID: wire.MsgFailedReceive})
		return false
	}

	for {
		r.inbound.Wait()
		om, found := r.inbound.PopFront()
		if !found {
			continue
		}

		switch om.Msg.ID {
		case wire.MsgChunk:
			data, digest, err := wire.SplitChunk(om.Msg.Body)
			if err != nil || !wire.VerifyChunk(data, digest) {
				r.log.Error("chunk integrity check failed")
				r.fail(sink)
				return false
			}
			if _, err := sink.Write(data); err != nil {
				r.log.WithError(err).Error("sink write failed")
				r.fail(sink)
				return false
			}

		case wire.MsgFinalChunk:
			if err := sink.Close(); err != nil {
				r.log.WithError(err).Error("sink close failed")
				r.send(wire.Message{ID: wire.MsgFailedReceive})
				return false
			}
			return true

		case wire.MsgAbort:
			r.log.Info("transfer aborted")
			sink.Close()
			return false

		default:
			r.log.WithField("id", om.Msg.ID.String()).Error("unexpected message mid-transfer")
			sink.Close()
			return false
		}
	}
}

func (r *Receiver) fail(sink io.WriteCloser) {
	r.send(wire.Message{ID: wire.MsgFailedReceive})
	sink.Close()
}
