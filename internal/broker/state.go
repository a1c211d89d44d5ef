package broker

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nickbublik/pingpong/internal/transport"
	"github.com/nickbublik/pingpong/internal/wire"
)

// msgValidated announces a freshly validated connection to the dispatch
// goroutine through the inbound queue, so registration stays ordered ahead
// of the connection's first real message. Never on the wire.
const msgValidated wire.MsgID = 0xFFFFFFFE

type connState int

const (
	stateUnassigned connState = iota
	statePendingSender
	stateRelaying
	stateReceiving
)

func (st connState) String() string {
	switch st {
	case stateUnassigned:
		return "Unassigned"
	case statePendingSender:
		return "PendingSender"
	case stateRelaying:
		return "Relaying"
	case stateReceiving:
		return "Receiving"
	}
	return "Invalid"
}

// pendingSender is a registered advertise waiting to be claimed.
type pendingSender struct {
	code string
	pre  wire.PreMetadata
	post wire.PostMetadata
}

// relaySession pairs one sender with one receiver for an active transfer.
type relaySession struct {
	id           string
	senderID     uint32
	receiverID   uint32
	fileSize     uint64
	maxChunkSize uint64
}

// connEntry is the broker-side record of one validated connection.
type connEntry struct {
	conn    *transport.Conn
	state   connState
	pending *pendingSender // statePendingSender
	relay   *relaySession  // stateRelaying
	peerID  uint32         // stateReceiving: the paired sender
}

func (s *Server) dispatch(om transport.OwnedMessage) {
	id := om.Remote.ID()

	switch om.Msg.ID {
	case msgValidated:
		s.conns[id] = &connEntry{conn: om.Remote, state: stateUnassigned}
		s.activeConns.Add(1)
		s.mtr.ConnOpened()
		return
	case transport.Disconnected:
		s.onDisconnect(id)
		return
	}

	entry, ok := s.conns[id]
	if !ok {
		// Connection already reaped; late messages are dropped.
		return
	}

	switch entry.state {
	case stateUnassigned:
		s.onUnassigned(id, entry, om.Msg)
	case statePendingSender:
		s.onPendingSender(id, entry, om.Msg)
	case stateRelaying:
		s.onRelaying(id, entry, om.Msg)
	case stateReceiving:
		s.onReceiving(id, entry, om.Msg)
	}
}

func (s *Server) onUnassigned(id uint32, entry *connEntry, msg wire.Message) {
	switch msg.ID {
	case wire.MsgSend:
		pre, err := wire.DecodePreMetadata(&msg)
		if err != nil {
			s.log.WithError(err).WithField("conn", id).Warn("malformed Send")
			entry.conn.Send(wire.Message{ID: wire.MsgReject})
			return
		}
		s.registerSender(id, entry, pre)

	case wire.MsgRequestReceive:
		pre, err := wire.DecodePreMetadata(&msg)
		if err != nil {
			s.log.WithError(err).WithField("conn", id).Warn("malformed RequestReceive")
			entry.conn.Send(wire.Message{ID: wire.MsgReject})
			return
		}
		sender := s.pendingByCode(pre.CodePhrase.Code)
		if sender == nil {
			s.mtr.RequestRejected()
			entry.conn.Send(wire.Message{ID: wire.MsgReject})
			return
		}
		reply, err := wire.EncodePostMetadata(wire.MsgAccept, sender.pending.post)
		if err != nil {
			entry.conn.Send(wire.Message{ID: wire.MsgReject})
			return
		}
		entry.conn.Send(reply)

	case wire.MsgReceive:
		cp, err := wire.DecodeCodePhrase(&msg)
		if err != nil {
			s.log.WithError(err).WithField("conn", id).Warn("malformed Receive")
			entry.conn.Send(wire.Message{ID: wire.MsgAbort})
			return
		}
		s.claimSender(id, entry, cp.Code)

	default:
		s.log.WithFields(logrus.Fields{"conn": id, "id": msg.ID.String()}).Warn("illegal message while unassigned")
		entry.conn.Send(wire.Message{ID: wire.MsgAbort})
	}
}

// registerSender handles Send from an unassigned connection: first owner of
// a code wins, a late duplicate is rejected.
func (s *Server) registerSender(id uint32, entry *connEntry, pre wire.PreMetadata) {
	code := pre.CodePhrase.Code
	if owner, taken := s.codeToSender[code]; taken && owner != id {
		s.log.WithFields(logrus.Fields{"conn": id, "code": code}).Info("duplicate code rejected")
		s.mtr.RequestRejected()
		entry.conn.Send(wire.Message{ID: wire.MsgReject})
		return
	}

	post := wire.PostMetadata{
		PayloadType:  pre.PayloadType,
		MaxChunkSize: s.maxChunkSize,
		CodePhrase:   pre.CodePhrase,
		FileData:     pre.FileData,
	}
	s.codeToSender[code] = id
	entry.state = statePendingSender
	entry.pending = &pendingSender{code: code, pre: pre, post: post}
	s.pendingCodes.Add(1)
	s.mtr.CodeRegistered()
	s.log.WithFields(logrus.Fields{
		"conn": id,
		"code": code,
		"file": pre.FileData.FileName,
		"size": pre.FileData.FileSize,
	}).Info("sender registered")
	// No reply: the receiver's claim triggers the contract.
}

// pendingByCode resolves a code to its sender only while that sender is
// still unclaimed.
func (s *Server) pendingByCode(code string) *connEntry {
	senderID, ok := s.codeToSender[code]
	if !ok {
		return nil
	}
	entry, ok := s.conns[senderID]
	if !ok || entry.state != statePendingSender {
		return nil
	}
	return entry
}

// claimSender handles Receive: pairs this connection with the pending
// sender and signals the sender to start streaming.
func (s *Server) claimSender(id uint32, entry *connEntry, code string) {
	sender := s.pendingByCode(code)
	if sender == nil {
		s.log.WithFields(logrus.Fields{"conn": id, "code": code}).Info("receive for unknown code")
		s.mtr.RequestRejected()
		entry.conn.Send(wire.Message{ID: wire.MsgAbort})
		return
	}

	senderID := sender.conn.ID()
	sess := &relaySession{
		id:           uuid.NewString(),
		senderID:     senderID,
		receiverID:   id,
		fileSize:     sender.pending.pre.FileData.FileSize,
		maxChunkSize: sender.pending.post.MaxChunkSize,
	}
	s.relays[senderID] = sess
	s.receiverToSender[id] = senderID

	sender.state = stateRelaying
	sender.relay = sess
	entry.state = stateReceiving
	entry.peerID = senderID

	s.activeRelays.Add(1)
	s.mtr.RelayStarted()
	s.log.WithFields(logrus.Fields{
		"session":  sess.id,
		"sender":   senderID,
		"receiver": id,
		"code":     code,
	}).Info("relay started")

	start, err := wire.EncodePostMetadata(wire.MsgAccept, sender.pending.post)
	if err != nil || !sender.conn.Send(start) {
		s.abortSession(sess)
	}
}

func (s *Server) onPendingSender(id uint32, entry *connEntry, msg wire.Message) {
	if msg.ID == wire.MsgSend {
		// A repeated advertise displaces the previous one, after telling
		// the sender its earlier registration is void.
		entry.conn.Send(wire.Message{ID: wire.MsgReject})
		s.dropPending(entry)
		entry.state = stateUnassigned
		pre, err := wire.DecodePreMetadata(&msg)
		if err != nil {
			s.log.WithError(err).WithField("conn", id).Warn("malformed Send")
			return
		}
		s.registerSender(id, entry, pre)
		return
	}

	s.log.WithFields(logrus.Fields{"conn": id, "id": msg.ID.String()}).Warn("protocol violation while pending")
	entry.conn.Send(wire.Message{ID: wire.MsgAbort})
	s.dropPending(entry)
	entry.state = stateUnassigned
}

func (s *Server) onRelaying(id uint32, entry *connEntry, msg wire.Message) {
	sess := entry.relay

	switch msg.ID {
	case wire.MsgChunk:
		if uint64(len(msg.Body)) < wire.HashSize ||
			uint64(len(msg.Body))-wire.HashSize > sess.maxChunkSize {
			s.log.WithFields(logrus.Fields{"session": sess.id, "len": len(msg.Body)}).Warn("oversize chunk")
			s.abortSession(sess)
			return
		}
		receiver, ok := s.conns[sess.receiverID]
		if !ok || !receiver.conn.Send(msg) {
			s.abortSession(sess)
			return
		}
		payload := len(msg.Body) - wire.HashSize
		s.relayedChunks.Add(1)
		s.relayedBytes.Add(uint64(payload))
		s.mtr.ChunkRelayed(payload)

	case wire.MsgFinalChunk:
		receiver, ok := s.conns[sess.receiverID]
		if !ok || !receiver.conn.Send(msg) {
			s.abortSession(sess)
			return
		}
		// Stay relaying until FinishReceive or a disconnect.

	default:
		s.log.WithFields(logrus.Fields{"session": sess.id, "id": msg.ID.String()}).Warn("illegal message from relaying sender")
		s.abortSession(sess)
	}
}

func (s *Server) onReceiving(id uint32, entry *connEntry, msg wire.Message) {
	senderID := entry.peerID
	sess := s.relays[senderID]

	switch msg.ID {
	case wire.MsgFinishReceive:
		s.completeSession(sess)

	case wire.MsgFailedReceive:
		s.log.WithField("session", sessionID(sess)).Info("receiver reported failure")
		s.abortSession(sess)

	default:
		s.log.WithFields(logrus.Fields{"conn": id, "id": msg.ID.String()}).Warn("illegal message from receiver")
		s.abortSession(sess)
	}
}

// completeSession finishes a confirmed transfer: Success to the sender,
// records removed, receiver disconnected once its queue drains.
func (s *Server) completeSession(sess *relaySession) {
	if sess == nil {
		return
	}
	if sender, ok := s.conns[sess.senderID]; ok {
		sender.conn.Send(wire.Message{ID: wire.MsgSuccess})
	}
	s.log.WithField("session", sess.id).Info("relay completed")
	s.completedRelays.Add(1)
	s.activeRelays.Add(-1)
	s.mtr.RelayCompleted()

	receiverID := sess.receiverID
	s.teardownSession(sess)
	if receiver, ok := s.conns[receiverID]; ok {
		receiver.conn.DisconnectAfterFlush()
	}
}

// abortSession emits Abort to both ends that are still connected and
// removes every broker record of the pairing. Sockets stay open; the
// clients disconnect on their own.
func (s *Server) abortSession(sess *relaySession) {
	if sess == nil {
		return
	}
	if sender, ok := s.conns[sess.senderID]; ok {
		sender.conn.Send(wire.Message{ID: wire.MsgAbort})
	}
	if receiver, ok := s.conns[sess.receiverID]; ok {
		receiver.conn.Send(wire.Message{ID: wire.MsgAbort})
	}
	s.log.WithField("session", sess.id).Info("relay aborted")
	s.abortedRelays.Add(1)
	s.activeRelays.Add(-1)
	s.mtr.RelayAborted()
	s.teardownSession(sess)
}

// teardownSession returns both connections to Unassigned and clears the
// pairing tables. Callers account for metrics.
func (s *Server) teardownSession(sess *relaySession) {
	delete(s.relays, sess.senderID)
	delete(s.receiverToSender, sess.receiverID)

	if sender, ok := s.conns[sess.senderID]; ok {
		s.dropPending(sender)
		sender.state = stateUnassigned
		sender.relay = nil
	}
	if receiver, ok := s.conns[sess.receiverID]; ok {
		receiver.state = stateUnassigned
		receiver.peerID = 0
	}
}

// dropPending removes a connection's code registration, if any.
func (s *Server) dropPending(entry *connEntry) {
	if entry.pending == nil {
		return
	}
	if owner, ok := s.codeToSender[entry.pending.code]; ok && owner == entry.conn.ID() {
		delete(s.codeToSender, entry.pending.code)
	}
	entry.pending = nil
	s.pendingCodes.Add(-1)
	s.mtr.CodeDropped()
}

func (s *Server) onDisconnect(id uint32) {
	entry, ok := s.conns[id]
	if !ok {
		return
	}
	s.log.WithFields(logrus.Fields{"conn": id, "state": entry.state.String()}).Info("client disconnected")

	switch entry.state {
	case statePendingSender:
		s.dropPending(entry)
	case stateRelaying:
		sess := entry.relay
		delete(s.conns, id)
		s.abortSession(sess)
	case stateReceiving:
		sess := s.relays[entry.peerID]
		delete(s.conns, id)
		s.abortSession(sess)
	}

	delete(s.conns, id)
	s.activeConns.Add(-1)
	s.mtr.ConnClosed()
	entry.conn.Close()
}

func sessionID(sess *relaySession) string {
	if sess == nil {
		return ""
	}
	return sess.id
}
