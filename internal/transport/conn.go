// Package transport owns one reliable stream per connection: the validation
// handshake, a perpetual read loop feeding a shared inbound queue, and a
// serialized write loop with pending-write accounting so callers can flush
// before closing.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/tsqueue"
	"github.com/nickbublik/pingpong/internal/wire"
)

const (
	// Disconnected is pushed on the inbound queue when the read loop ends,
	// so the queue owner learns about the closure in message order. It is
	// never written to the wire.
	Disconnected wire.MsgID = 0xFFFFFFFF

	handshakeTimeout = 10 * time.Second

	// outboundDepth bounds messages accepted by Send but not yet written.
	// A full queue exerts backpressure on the producer.
	outboundDepth = 64

	readBufferSize  = 128 * 1024
	writeBufferSize = 128 * 1024
)

var (
	ErrNotValidated = errors.New("transport: connection not validated")
	ErrClosed       = errors.New("transport: connection closed")
	errBadReply     = errors.New("transport: handshake reply mismatch")
)

// OwnedMessage tags an inbound message with its originating connection for
// server-side routing. Remote is nil on pure client queues only if the
// owner chooses so; here it is always set.
type OwnedMessage struct {
	Remote *Conn
	Msg    wire.Message
}

// Queue is the shared inbound queue type.
type Queue = tsqueue.Queue[OwnedMessage]

// Conn frames messages over one stream socket. Writes are serialized by a
// single write loop; reads run on a single read loop. All network errors
// are terminal for the connection.
type Conn struct {
	id     uint32
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	inbound  *Queue
	outbound chan wire.Message

	validated atomic.Bool
	connected atomic.Bool

	flushMu       sync.Mutex
	flushCV       *sync.Cond
	pendingWrites int

	closeOnce sync.Once
	done      chan struct{}

	log *logrus.Entry
}

// NewConn wraps an established stream socket. The connection does not read
// or write until a handshake method and Start are called.
func NewConn(id uint32, nc net.Conn, inbound *Queue) *Conn {
	c := &Conn{
		id:       id,
		conn:     nc,
		reader:   bufio.NewReaderSize(nc, readBufferSize),
		writer:   bufio.NewWriterSize(nc, writeBufferSize),
		inbound:  inbound,
		outbound: make(chan wire.Message, outboundDepth),
		done:     make(chan struct{}),
		log:      logrus.WithFields(logrus.Fields{"component": "transport", "conn": id}),
	}
	c.flushCV = sync.NewCond(&c.flushMu)
	c.connected.Store(true)
	return c
}

// ID returns the stable numeric id assigned by the owner.
func (c *Conn) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsConnected reports whether the socket is still usable.
func (c *Conn) IsConnected() bool {
	return c.connected.Load()
}

// IsValidated reports whether the handshake completed.
func (c *Conn) IsValidated() bool {
	return c.validated.Load()
}

// HandshakeServer runs the accept-side validation: write a nonce taken from
// the wall clock (Unix nanoseconds, not a monotonic reading), then require
// the scrambled form back. Any other
// reply closes the socket before the message loop starts.
func (c *Conn) HandshakeServer() error {
	nonce := uint64(time.Now().UnixNano())
	expected := scramble(nonce)

	c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonce)
	if _, err := c.conn.Write(buf[:]); err != nil {
		c.Close()
		return err
	}
	if _, err := io.ReadFull(c.reader, buf[:]); err != nil {
		c.Close()
		return err
	}
	if binary.LittleEndian.Uint64(buf[:]) != expected {
		c.Close()
		return errBadReply
	}
	c.validated.Store(true)
	return nil
}

// HandshakeClient runs the connect-side validation: read the nonce, reply
// with its scrambled form.
func (c *Conn) HandshakeClient() error {
	c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	var buf [8]byte
	if _, err := io.ReadFull(c.reader, buf[:]); err != nil {
		c.Close()
		return err
	}
	reply := scramble(binary.LittleEndian.Uint64(buf[:]))
	binary.LittleEndian.PutUint64(buf[:], reply)
	if _, err := c.conn.Write(buf[:]); err != nil {
		c.Close()
		return err
	}
	c.validated.Store(true)
	return nil
}

// Start launches the read and write loops. Call once, after a successful
// handshake.
func (c *Conn) Start() {
	go c.readLoop()
	go c.writeLoop()
}

// Send queues a message for transmission. It fails fast when the
// connection is not validated or already closed, and blocks only when the
// outbound queue is full.
func (c *Conn) Send(msg wire.Message) bool {
	if !c.validated.Load() || !c.connected.Load() {
		return false
	}

	c.flushMu.Lock()
	c.pendingWrites++
	c.flushMu.Unlock()

	select {
	case c.outbound <- msg:
		return true
	case <-c.done:
		c.completeWrite()
		return false
	}
}

// PendingWrites returns the count of messages accepted by Send but not yet
// fully written.
func (c *Conn) PendingWrites() int {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.pendingWrites
}

// Flush blocks until every pending write drained or the connection closed.
func (c *Conn) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	for c.pendingWrites > 0 && c.connected.Load() {
		c.flushCV.Wait()
	}
}

// DisconnectAfterFlush drains pending writes and then closes the socket.
func (c *Conn) DisconnectAfterFlush() {
	go func() {
		c.Flush()
		c.Close()
	}()
}

// Close tears the connection down immediately. Safe to call repeatedly and
// from any goroutine; the inbound queue survives so the owner can drain it.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		c.conn.Close()
		c.flushMu.Lock()
		c.flushCV.Broadcast()
		c.flushMu.Unlock()
	})
}

func (c *Conn) completeWrite() {
	c.flushMu.Lock()
	if c.pendingWrites > 0 {
		c.pendingWrites--
	}
	if c.pendingWrites == 0 {
		c.flushCV.Broadcast()
	}
	c.flushMu.Unlock()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			err := wire.WriteMessage(c.writer, &msg)
			if err == nil {
				err = c.writer.Flush()
			}
			c.completeWrite()
			if err != nil {
				c.log.WithError(err).Debug("write failed")
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		msg, err := wire.ReadMessage(c.reader)
		if err != nil {
			if err != io.EOF {
				c.log.WithError(err).Debug("read failed")
			}
			break
		}
		c.inbound.PushBack(OwnedMessage{Remote: c, Msg: msg})
	}
	c.Close()
	c.inbound.PushBack(OwnedMessage{Remote: c, Msg: wire.Message{ID: Disconnected}})
}
