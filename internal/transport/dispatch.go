package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/session"
)

// dispatch routes a decoded envelope to the owning service. Login and
// registration are accepted on any session; every other request kind
// requires an authenticated identity and is otherwise answered with an
// error envelope and no side effects.
func (s *Server) dispatch(sess *session.Session, env *protocol.Envelope) {
	// The request budget covers one pool wait plus the queries themselves.
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.Database.AcquireTimeout+5*time.Second)
	defer cancel()

	switch env.Type {
	case protocol.TypeLoginRequest:
		s.auth.HandleLogin(ctx, sess, env.LoginRequest)
		return
	case protocol.TypeRegistrationRequest:
		s.auth.HandleRegister(ctx, sess, env.RegistrationRequest)
		return
	}

	if !sess.IsAuthenticated() {
		s.log.Warn("unauthenticated request rejected",
			zap.Uint64("session_id", sess.ID()),
			zap.String("type", string(env.Type)))
		if s.metrics != nil {
			s.metrics.Envelopes.AuthRejected.Inc()
		}
		sess.Send(protocol.NewError("Authentication required.", 401))
		return
	}

	switch env.Type {
	case protocol.TypeChangePasswordRequest:
		s.auth.HandleChangePassword(ctx, sess, env.ChangePasswordRequest)
	case protocol.TypeChangeUsernameRequest:
		s.auth.HandleChangeUsername(ctx, sess, env.ChangeUsernameRequest)
	case protocol.TypePublicMessage:
		s.messages.HandlePublicMessage(ctx, sess, env.PublicMessage)
	case protocol.TypePrivateMessageRequest:
		s.messages.HandlePrivateMessage(ctx, sess, env.PrivateMessageRequest)
	case protocol.TypeRoomOperationRequest:
		s.rooms.HandleRoomOperation(ctx, sess, env.RoomOperationRequest)
	case protocol.TypeHistoryRequest:
		s.rooms.HandleHistoryRequest(ctx, sess, env.HistoryRequest)
	default:
		s.log.Warn("unhandled envelope type",
			zap.Uint64("session_id", sess.ID()),
			zap.String("type", string(env.Type)))
	}
}
