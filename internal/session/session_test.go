package session

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"testing"

	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/tsqueue"
	"github.com/nickbublik/pingpong/internal/wire"
)

type nopCloser struct {
	*bytes.Buffer
}

func (nopCloser) Close() error { return nil }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Close() error              { return nil }

// capture collects emitted messages and lets tests refuse sends.
type capture struct {
	msgs   []wire.Message
	refuse bool
}

func (c *capture) emit(msg wire.Message) bool {
	if c.refuse {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func TestSenderChunksAndTerminates(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 100) // 1000 bytes
	src := io.NopCloser(bytes.NewReader(data))
	in := tsqueue.New[transport.OwnedMessage]()
	cap := &capture{}

	s := NewSender(wire.PayloadFile, src, 512, in, cap.emit)
	if !s.Run() {
		t.Fatal("Run failed")
	}

	// 1000 bytes at 512 per chunk: 512 + 488, then FinalChunk.
	if len(cap.msgs) != 3 {
		t.Fatalf("emitted %d messages, want 3", len(cap.msgs))
	}

	var rebuilt []byte
	for i, msg := range cap.msgs[:2] {
		if msg.ID != wire.MsgChunk {
			t.Fatalf("message %d id = %v", i, msg.ID)
		}
		payload, digest, err := wire.SplitChunk(msg.Body)
		if err != nil {
			t.Fatalf("split chunk %d: %v", i, err)
		}
		if !wire.VerifyChunk(payload, digest) {
			t.Fatalf("chunk %d digest invalid", i)
		}
		rebuilt = append(rebuilt, payload...)
	}
	if len(cap.msgs[0].Body) != 512+wire.HashSize || len(cap.msgs[1].Body) != 488+wire.HashSize {
		t.Fatalf("chunk sizes = %d, %d", len(cap.msgs[0].Body), len(cap.msgs[1].Body))
	}
	if !bytes.Equal(rebuilt, data) {
		t.Fatal("reassembled payload differs from the source")
	}

	final := cap.msgs[2]
	if final.ID != wire.MsgFinalChunk || len(final.Body) != 0 {
		t.Fatalf("terminator = %v with %d body bytes", final.ID, len(final.Body))
	}
}

func TestSenderStopsOnAbortButStillTerminates(t *testing.T) {
	src := io.NopCloser(bytes.NewReader(bytes.Repeat([]byte{0xAA}, 4096)))
	in := tsqueue.New[transport.OwnedMessage]()
	in.PushBack(transport.OwnedMessage{Msg: wire.Message{ID: wire.MsgAbort}})
	cap := &capture{}

	s := NewSender(wire.PayloadFile, src, 512, in, cap.emit)
	if s.Run() {
		t.Fatal("Run succeeded despite Abort")
	}
	if len(cap.msgs) != 1 || cap.msgs[0].ID != wire.MsgFinalChunk {
		t.Fatalf("messages after abort = %v", cap.msgs)
	}
}

func TestSenderFailsWhenTransportRefuses(t *testing.T) {
	src := io.NopCloser(bytes.NewReader([]byte("data")))
	in := tsqueue.New[transport.OwnedMessage]()
	cap := &capture{refuse: true}

	s := NewSender(wire.PayloadFile, src, 512, in, cap.emit)
	if s.Run() {
		t.Fatal("Run succeeded with a refusing transport")
	}
}

func TestSenderEmptySource(t *testing.T) {
	src := io.NopCloser(bytes.NewReader(nil))
	in := tsqueue.New[transport.OwnedMessage]()
	cap := &capture{}

	s := NewSender(wire.PayloadFile, src, 512, in, cap.emit)
	if !s.Run() {
		t.Fatal("Run failed on empty source")
	}
	if len(cap.msgs) != 1 || cap.msgs[0].ID != wire.MsgFinalChunk {
		t.Fatalf("empty source should emit only FinalChunk, got %v", cap.msgs)
	}
}

func receiverQueue(msgs ...wire.Message) *transport.Queue {
	q := tsqueue.New[transport.OwnedMessage]()
	for _, m := range msgs {
		q.PushBack(transport.OwnedMessage{Msg: m})
	}
	return q
}

func TestReceiverWritesVerifiedChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 50)
	in := receiverQueue(
		wire.NewChunk(data[:256]),
		wire.NewChunk(data[256:]),
		wire.Message{ID: wire.MsgFinalChunk},
	)
	sink := nopCloser{&bytes.Buffer{}}
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) { return sink, nil }, in, cap.emit)
	if !r.Run() {
		t.Fatal("Run failed")
	}
	if !bytes.Equal(sink.Bytes(), data) {
		t.Fatal("sink content differs from the sent payload")
	}
	if len(cap.msgs) != 0 {
		t.Fatalf("receiver emitted %v on the happy path", cap.msgs)
	}
}

func TestReceiverRejectsCorruptedChunk(t *testing.T) {
	chunk := wire.NewChunk([]byte("chunk payload"))
	chunk.Body[len(chunk.Body)-1] ^= 0x01 // flip a digest bit
	in := receiverQueue(chunk)
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return nopCloser{&bytes.Buffer{}}, nil
	}, in, cap.emit)
	if r.Run() {
		t.Fatal("Run accepted a corrupted chunk")
	}
	if len(cap.msgs) != 1 || cap.msgs[0].ID != wire.MsgFailedReceive {
		t.Fatalf("emitted %v, want FailedReceive", cap.msgs)
	}
}

func TestReceiverRejectsTamperedPayload(t *testing.T) {
	chunk := wire.NewChunk([]byte("chunk payload"))
	chunk.Body[0] ^= 0x01 // flip a payload bit, digest untouched
	in := receiverQueue(chunk)
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return nopCloser{&bytes.Buffer{}}, nil
	}, in, cap.emit)
	if r.Run() {
		t.Fatal("Run accepted a tampered payload")
	}
}

func TestReceiverFailsOnSinkOpenError(t *testing.T) {
	in := receiverQueue()
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return nil, errors.New("permission denied")
	}, in, cap.emit)
	if r.Run() {
		t.Fatal("Run succeeded without a sink")
	}
	if len(cap.msgs) != 1 || cap.msgs[0].ID != wire.MsgFailedReceive {
		t.Fatalf("emitted %v, want FailedReceive", cap.msgs)
	}
}

func TestReceiverFailsOnSinkWriteError(t *testing.T) {
	in := receiverQueue(wire.NewChunk([]byte("payload")))
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return failingWriter{}, nil
	}, in, cap.emit)
	if r.Run() {
		t.Fatal("Run succeeded with a failing sink")
	}
	if len(cap.msgs) != 1 || cap.msgs[0].ID != wire.MsgFailedReceive {
		t.Fatalf("emitted %v, want FailedReceive", cap.msgs)
	}
}

func TestReceiverStopsOnAbort(t *testing.T) {
	in := receiverQueue(wire.Message{ID: wire.MsgAbort})
	cap := &capture{}

	r := NewReceiver(wire.PayloadFile, func() (io.WriteCloser, error) {
		return nopCloser{&bytes.Buffer{}}, nil
	}, in, cap.emit)
	if r.Run() {
		t.Fatal("Run succeeded after Abort")
	}
	if len(cap.msgs) != 0 {
		t.Fatalf("abort should not trigger FailedReceive, got %v", cap.msgs)
	}
}

func TestChunkDigestMatchesStdlib(t *testing.T) {
	data := []byte("digest sanity")
	msg := wire.NewChunk(data)
	want := sha256.Sum256(data)
	if !bytes.Equal(msg.Body[len(data):], want[:]) {
		t.Fatal("trailer is not the stdlib SHA-256 of the payload")
	}
}
