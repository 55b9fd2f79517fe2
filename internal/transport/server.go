package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"relay-chat-server/internal/config"
	"relay-chat-server/internal/metrics"
	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/service"
	"relay-chat-server/internal/session"
)

// Server owns the TCP listener and every connection's lifecycle: accept,
// register, read loop, dispatch, teardown.
type Server struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Registry

	manager  *session.Manager
	auth     *service.AuthService
	messages *service.MessageService
	rooms    *service.RoomService

	listener    net.Listener
	baseCtx     context.Context
	cancelBase  context.CancelFunc
	wg          sync.WaitGroup
	nextSession uint64
}

func NewServer(cfg config.Config, log *zap.Logger, reg *metrics.Registry,
	manager *session.Manager, auth *service.AuthService,
	messages *service.MessageService, rooms *service.RoomService) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  reg,
		manager:  manager,
		auth:     auth,
		messages: messages,
		rooms:    rooms,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.baseCtx, s.cancelBase = context.WithCancel(ctx)
	s.log.Info("transport listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Addr reports the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, tears down every live session, and waits for
// connection goroutines to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.cancelBase != nil {
		s.cancelBase()
	}
	s.manager.CloseAll()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if s.baseCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept error", zap.Error(err))
			return
		}

		id := atomic.AddUint64(&s.nextSession, 1)
		sess := session.New(id, conn, s.log, s.onSessionClosed)
		s.manager.Add(sess)
		if s.metrics != nil {
			s.metrics.Sessions.Active.Inc()
		}
		s.log.Info("connection accepted",
			zap.Uint64("session_id", id),
			zap.String("remote", sess.RemoteAddr()))

		limiter := rate.NewLimiter(rate.Limit(s.cfg.Chat.MessageRate), s.cfg.Chat.MessageBurst)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.ReadLoop(func(sess *session.Session, env *protocol.Envelope) {
				if err := limiter.Wait(s.baseCtx); err != nil {
					sess.Close()
					return
				}
				if s.metrics != nil {
					s.metrics.Envelopes.Received.Inc()
				}
				s.dispatch(sess, env)
			})
		}()
	}
}

// onSessionClosed runs exactly once per session, after teardown: the user
// leaves their room (notifying remaining members) and the registry entries
// are removed.
func (s *Server) onSessionClosed(sess *session.Session) {
	if sess.IsAuthenticated() {
		s.log.Info("user disconnected",
			zap.Int64("user_id", sess.UserID()),
			zap.String("username", sess.Username()))
		s.rooms.HandleDisconnect(sess)
	}
	s.manager.Remove(sess)
	if s.metrics != nil {
		s.metrics.Sessions.Active.Dec()
	}
}
