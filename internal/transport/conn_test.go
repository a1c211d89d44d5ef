package transport

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nickbublik/pingpong/internal/tsqueue"
	"github.com/nickbublik/pingpong/internal/wire"
)

func TestScrambleVectors(t *testing.T) {
	tests := []struct {
		in, out uint64
	}{
		{0x0, 0xB2B21DF0C41FEC83},
		{0xBABA15ACAB0011FF, 0xBABA15FACE1EE788},
		{0x0123456789ABCDEF, 0xB2B219F4C415EE89},
	}
	for _, tc := range tests {
		if got := scramble(tc.in); got != tc.out {
			t.Errorf("scramble(%#x) = %#x, want %#x", tc.in, got, tc.out)
		}
	}
}

// pipePair builds a validated server/client connection pair over an
// in-memory duplex stream and starts both loops.
func pipePair(t *testing.T) (server, client *Conn, serverIn, clientIn *Queue) {
	t.Helper()

	serverSide, clientSide := net.Pipe()
	serverIn = tsqueue.New[OwnedMessage]()
	clientIn = tsqueue.New[OwnedMessage]()
	server = NewConn(1, serverSide, serverIn)
	client = NewConn(0, clientSide, clientIn)

	var wg sync.WaitGroup
	wg.Add(2)
	var serverErr, clientErr error
	go func() {
		defer wg.Done()
		serverErr = server.HandshakeServer()
	}()
	go func() {
		defer wg.Done()
		clientErr = client.HandshakeClient()
	}()
	wg.Wait()

	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}
	if !server.IsValidated() || !client.IsValidated() {
		t.Fatal("handshake completed but a side is not validated")
	}

	server.Start()
	client.Start()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client, serverIn, clientIn
}

func waitMessage(t *testing.T, q *Queue) OwnedMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.WaitFor(50 * time.Millisecond) {
			if om, ok := q.PopFront(); ok {
				return om
			}
		}
	}
	t.Fatal("no message arrived")
	return OwnedMessage{}
}

func TestHandshakeRejectsEchoedNonce(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	server := NewConn(1, serverSide, tsqueue.New[OwnedMessage]())

	done := make(chan error, 1)
	go func() {
		done <- server.HandshakeServer()
	}()

	// Echo the nonce back without scrambling it.
	var nonce [8]byte
	if _, err := clientSide.Read(nonce[:]); err != nil {
		t.Fatalf("read nonce: %v", err)
	}
	if _, err := clientSide.Write(nonce[:]); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	if err := <-done; err == nil {
		t.Fatal("handshake accepted an unscrambled reply")
	}
	if server.IsValidated() {
		t.Fatal("server validated a tampering peer")
	}
	if server.IsConnected() {
		t.Fatal("socket left open after failed handshake")
	}
}

func TestSendReceiveOrder(t *testing.T) {
	_, client, serverIn, _ := pipePair(t)

	payloads := [][]byte{
		[]byte("first"),
		nil, // zero-body message skips the body write
		[]byte("third"),
	}
	for i, p := range payloads {
		msg := wire.Message{ID: wire.MsgChunk, Body: p}
		if i == 1 {
			msg.ID = wire.MsgFinalChunk
		}
		if !client.Send(msg) {
			t.Fatalf("Send %d refused", i)
		}
	}

	for i, p := range payloads {
		om := waitMessage(t, serverIn)
		if om.Remote.ID() != 1 {
			t.Fatalf("message %d tagged with conn %d", i, om.Remote.ID())
		}
		if !bytes.Equal(om.Msg.Body, p) {
			t.Fatalf("message %d body = %q, want %q", i, om.Msg.Body, p)
		}
	}
}

func TestSendFailsBeforeValidation(t *testing.T) {
	serverSide, _ := net.Pipe()
	defer serverSide.Close()

	c := NewConn(5, serverSide, tsqueue.New[OwnedMessage]())
	if c.Send(wire.Message{ID: wire.MsgAbort}) {
		t.Fatal("Send succeeded on an unvalidated connection")
	}
}

func TestFlushDrainsPendingWrites(t *testing.T) {
	_, client, serverIn, _ := pipePair(t)

	const n = 32
	for i := 0; i < n; i++ {
		if !client.Send(wire.NewChunk([]byte("chunk data"))) {
			t.Fatalf("Send %d refused", i)
		}
	}
	client.Flush()

	if pw := client.PendingWrites(); pw != 0 {
		t.Fatalf("PendingWrites after Flush = %d", pw)
	}
	for i := 0; i < n; i++ {
		waitMessage(t, serverIn)
	}
}

func TestCloseNoticeReachesQueue(t *testing.T) {
	server, _, _, clientIn := pipePair(t)

	server.Close()

	for {
		om := waitMessage(t, clientIn)
		if om.Msg.ID == Disconnected {
			break
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	_, client, _, _ := pipePair(t)
	client.Close()

	if client.IsConnected() {
		t.Fatal("IsConnected after Close")
	}
	if client.Send(wire.Message{ID: wire.MsgAbort}) {
		t.Fatal("Send succeeded on a closed connection")
	}
	// Flush must not hang on a closed connection.
	done := make(chan struct{})
	go func() {
		client.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush hung after Close")
	}
}
