// Package broker implements the central pairing and relay service: it
// accepts validated connections, matches senders and receivers by code
// phrase, and forwards chunks one-to-one with size policing. No file data
// is ever persisted.
package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/metrics"
	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/tsqueue"
	"github.com/nickbublik/pingpong/internal/wire"
)

const (
	// DefaultPort is the broker's TCP port.
	DefaultPort = 60010

	// DefaultMaxChunkSize is offered to senders when no override is
	// configured.
	DefaultMaxChunkSize = 64 * 1024

	acceptPollInterval   = 500 * time.Millisecond
	dispatchPollInterval = 250 * time.Millisecond

	// Connection ids start well above zero so they are easy to tell apart
	// from list indexes in logs.
	firstConnID = 10000
)

// Config carries the broker's tunables.
type Config struct {
	// MaxChunkSize is the per-chunk payload bound the broker advertises
	// and enforces. Zero selects DefaultMaxChunkSize.
	MaxChunkSize uint64

	// Metrics receives activity updates. Nil disables collection.
	Metrics *metrics.Broker
}

// Stats is a point-in-time snapshot of broker activity, safe to read from
// any goroutine.
type Stats struct {
	ActiveConnections int64  `json:"active_connections"`
	PendingCodes      int64  `json:"pending_codes"`
	ActiveRelays      int64  `json:"active_relays"`
	RelayedChunks     uint64 `json:"relayed_chunks"`
	RelayedBytes      uint64 `json:"relayed_bytes"`
	CompletedRelays   uint64 `json:"completed_relays"`
	AbortedRelays     uint64 `json:"aborted_relays"`
}

// Server is the broker. All state-machine mutation happens on the single
// dispatch goroutine, so the pairing tables need no locking.
type Server struct {
	listener     net.Listener
	inbound      *transport.Queue
	maxChunkSize uint64

	// Dispatch-goroutine state.
	conns            map[uint32]*connEntry
	codeToSender     map[string]uint32
	relays           map[uint32]*relaySession
	receiverToSender map[uint32]uint32

	idCounter atomic.Uint32
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	activeConns     atomic.Int64
	pendingCodes    atomic.Int64
	activeRelays    atomic.Int64
	relayedChunks   atomic.Uint64
	relayedBytes    atomic.Uint64
	completedRelays atomic.Uint64
	abortedRelays   atomic.Uint64

	mtr *metrics.Broker
	log *logrus.Entry
}

// NewServer builds a broker with the given tunables.
func NewServer(cfg Config) *Server {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	s := &Server{
		inbound:          tsqueue.New[transport.OwnedMessage](),
		maxChunkSize:     cfg.MaxChunkSize,
		conns:            make(map[uint32]*connEntry),
		codeToSender:     make(map[string]uint32),
		relays:           make(map[uint32]*relaySession),
		receiverToSender: make(map[uint32]uint32),
		shutdown:         make(chan struct{}),
		mtr:              cfg.Metrics,
		log:              logrus.WithField("component", "broker"),
	}
	s.idCounter.Store(firstConnID)
	return s
}

// ListenAndServe binds addr and runs the accept and dispatch loops until
// Shutdown. It blocks.
func (s *Server) ListenAndServe(addr string) error {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve runs the broker on an already-bound listener. It blocks until
// Shutdown.
func (s *Server) Serve(listener *net.TCPListener) error {
	s.listener = listener
	s.log.WithField("addr", listener.Addr().String()).Info("broker listening")

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.dispatchLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Shutdown stops accepting and waits for the accept loop and in-flight
// handshakes to finish. The dispatch loop closes every connection on its
// next pass, after which Serve returns.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}

// Stats snapshots the activity counters.
func (s *Server) Stats() Stats {
	return Stats{
		ActiveConnections: s.activeConns.Load(),
		PendingCodes:      s.pendingCodes.Load(),
		ActiveRelays:      s.activeRelays.Load(),
		RelayedChunks:     s.relayedChunks.Load(),
		RelayedBytes:      s.relayedBytes.Load(),
		CompletedRelays:   s.completedRelays.Load(),
		AbortedRelays:     s.abortedRelays.Load(),
	}
}

func (s *Server) acceptLoop(listener *net.TCPListener) {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// Short deadline keeps shutdown responsive.
		listener.SetDeadline(time.Now().Add(acceptPollInterval))

		conn, err := listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection tunes the socket, runs the validation handshake and
// hands the connection to the dispatcher. A failed handshake never reaches
// the message loop.
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	if tcpConn, ok := nc.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	id := s.idCounter.Add(1)
	c := transport.NewConn(id, nc, s.inbound)
	if err := c.HandshakeServer(); err != nil {
		s.log.WithError(err).WithField("remote", nc.RemoteAddr().String()).Info("handshake failed")
		return
	}

	s.log.WithFields(logrus.Fields{"conn": id, "remote": nc.RemoteAddr().String()}).Info("client validated")
	s.inbound.PushBack(transport.OwnedMessage{Remote: c, Msg: wire.Message{ID: msgValidated}})
	c.Start()
}

func (s *Server) dispatchLoop() {
	for {
		s.inbound.WaitFor(dispatchPollInterval)

		for {
			om, ok := s.inbound.PopFront()
			if !ok {
				break
			}
			s.dispatch(om)
		}

		select {
		case <-s.shutdown:
			s.closeAll()
			return
		default:
		}
	}
}

func (s *Server) closeAll() {
	for _, entry := range s.conns {
		entry.conn.Close()
	}
	s.conns = make(map[uint32]*connEntry)
	s.codeToSender = make(map[string]uint32)
	s.relays = make(map[uint32]*relaySession)
	s.receiverToSender = make(map[uint32]uint32)
}
