// Package client connects to the broker and drives the two transfer
// routines behind the ppclient CLI: advertise-and-send, claim-and-receive.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/discovery"
	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/tsqueue"
	"github.com/nickbublik/pingpong/internal/wire"
)

const (
	connectTimeout = 5 * time.Second

	// incomingPollPeriod bounds the confirmation waits so the loops can
	// notice a dead connection.
	incomingPollPeriod = 50 * time.Millisecond
)

// Client owns one validated broker connection and its inbound queue.
type Client struct {
	conn    *transport.Conn
	inbound *transport.Queue
	log     *logrus.Entry
}

// Connect dials the broker directly and completes the validation
// handshake.
func Connect(addr string) (*Client, error) {
	nc, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "dial broker")
	}
	if tcpConn, ok := nc.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	inbound := tsqueue.New[transport.OwnedMessage]()
	conn := transport.NewConn(0, nc, inbound)
	if err := conn.HandshakeClient(); err != nil {
		return nil, errors.Wrap(err, "validation handshake")
	}
	conn.Start()

	return &Client{
		conn:    conn,
		inbound: inbound,
		log:     logrus.WithField("component", "client"),
	}, nil
}

// AutoConnect discovers the broker over UDP and dials it.
func AutoConnect(discoveryPort uint16, timeout time.Duration) (*Client, error) {
	srv, err := discovery.Discover(discoveryPort, timeout)
	if err != nil {
		return nil, err
	}
	return Connect(fmt.Sprintf("%s:%d", srv.Address, srv.Port))
}

// Incoming exposes the inbound queue for session loops.
func (c *Client) Incoming() *transport.Queue {
	return c.inbound
}

// Send queues one message toward the broker.
func (c *Client) Send(msg wire.Message) bool {
	return c.conn.Send(msg)
}

// Flush blocks until every queued write drained.
func (c *Client) Flush() {
	c.conn.Flush()
}

// PendingWrites reports queued-but-unwritten messages.
func (c *Client) PendingWrites() int {
	return c.conn.PendingWrites()
}

// IsConnected reports whether the broker connection is still alive.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Disconnect closes the broker connection immediately.
func (c *Client) Disconnect() {
	c.conn.Close()
}

// awaitReply blocks until a message arrives whose id is handled by
// decide, skipping ids decide does not recognize. It gives up when the
// connection dies.
func (c *Client) awaitReply(decide func(wire.Message) (done, ok bool)) bool {
	for {
		if got := c.inbound.WaitFor(incomingPollPeriod); !got {
			if !c.conn.IsConnected() && c.inbound.Empty() {
				return false
			}
			continue
		}
		for {
			om, found := c.inbound.PopFront()
			if !found {
				break
			}
			if om.Msg.ID == transport.Disconnected {
				return false
			}
			if done, ok := decide(om.Msg); done {
				return ok
			}
			c.log.WithField("id", om.Msg.ID.String()).Warn("skipped unexpected message")
		}
	}
}
