package session

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
)

// Handler consumes one decoded envelope from a session's read loop.
type Handler func(*Session, *protocol.Envelope)

// Session owns one client TCP connection: the framed read loop and an
// ordered outbound write queue. All other subsystems hold it by reference
// and talk to the socket only through Send.
type Session struct {
	id      uint64
	conn    net.Conn
	log     *zap.Logger
	onClose func(*Session)

	mu      sync.Mutex
	pending [][]byte
	writing bool
	closed  bool

	authenticated bool
	userID        int64
	username      string
}

// New wraps an accepted connection. onClose runs exactly once, after the
// session transitions to closed, from whichever goroutine observed the
// failure first.
func New(id uint64, conn net.Conn, log *zap.Logger, onClose func(*Session)) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		log:     log.With(zap.Uint64("session_id", id)),
		onClose: onClose,
	}
}

func (s *Session) ID() uint64 { return s.id }

// RemoteAddr reports the peer address for logging.
func (s *Session) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send serializes the envelope, frames it, and queues it for delivery. It is
// safe to call from any goroutine; frames reach the peer in Send call order
// with no interleaving. A write is started only when none is in flight.
func (s *Session) Send(env *protocol.Envelope) {
	frame, err := protocol.EncodeFrame(env)
	if err != nil {
		s.log.Error("encode outbound envelope", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, frame)
	start := !s.writing
	if start {
		s.writing = true
	}
	s.mu.Unlock()

	if start {
		go s.drain()
	}
}

// drain writes queued frames until the queue empties or the connection
// fails. At most one drain goroutine runs per session.
func (s *Session) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.pending) == 0 {
			s.writing = false
			s.mu.Unlock()
			return
		}
		frame := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if _, err := s.conn.Write(frame); err != nil {
			s.mu.Lock()
			s.writing = false
			s.mu.Unlock()
			s.teardown("write", err)
			return
		}
	}
}

// ReadLoop reads framed envelopes and hands them to handler until the
// connection fails or a protocol violation occurs. It runs on the
// connection's read goroutine; handler is invoked synchronously, so a slow
// handler bounds this peer to one in-flight envelope.
func (s *Session) ReadLoop(handler Handler) {
	for {
		body, err := protocol.ReadFrame(s.conn)
		if err != nil {
			s.teardown("read", err)
			return
		}
		env, err := protocol.DecodeEnvelope(body)
		if err != nil {
			s.teardown("decode", err)
			return
		}
		handler(s, env)
	}
}

// Close tears the session down. Safe to call multiple times.
func (s *Session) Close() {
	s.teardown("close", nil)
}

// teardown transitions to closed exactly once, closes the socket, and fires
// the onClose callback.
func (s *Session) teardown(stage string, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	switch {
	case err == nil || errors.Is(err, net.ErrClosed):
	case errors.Is(err, io.EOF):
		s.log.Info("session closed by peer", zap.String("stage", stage))
	case errors.Is(err, protocol.ErrProtocol):
		s.log.Warn("session protocol violation", zap.String("stage", stage), zap.Error(err))
	default:
		s.log.Warn("session error", zap.String("stage", stage), zap.Error(err))
	}

	_ = s.conn.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}

// SetAuthenticated attaches an identity to the session.
func (s *Session) SetAuthenticated(userID int64, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.username = username
	s.authenticated = true
}

func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SetUsername replaces the session's username. Callers that also index
// sessions by username must update their index in the same critical section;
// see Manager.UpdateUsername.
func (s *Session) SetUsername(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = username
}
