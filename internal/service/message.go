package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/session"
	"relay-chat-server/internal/store"
)

// MessageService routes public and private chat messages, persisting each
// one before fan-out.
type MessageService struct {
	messages MessageRepo
	sessions *session.Manager
	rooms    *RoomService
	log      *zap.Logger
}

func NewMessageService(messages MessageRepo, sessions *session.Manager, rooms *RoomService, log *zap.Logger) *MessageService {
	return &MessageService{messages: messages, sessions: sessions, rooms: rooms, log: log}
}

// HandlePublicMessage persists the message and broadcasts it to the
// sender's current room, excluding the sender.
func (m *MessageService) HandlePublicMessage(ctx context.Context, s *session.Session, msg *protocol.PublicMessage) {
	senderID := s.UserID()
	roomName := m.rooms.CurrentRoomName(senderID)
	if roomName == "" {
		s.Send(protocol.NewError("You are not in any room. Join a room to send messages.", codeNotInRoom))
		return
	}

	roomID, err := m.rooms.CurrentRoomID(ctx, senderID)
	if err != nil {
		m.log.Error("resolve room id failed", zap.Int64("user_id", senderID), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	record := &store.Message{RoomID: roomID, SenderID: senderID, Content: msg.Content}
	if err := m.messages.Add(ctx, record); err != nil {
		m.log.Error("persist public message failed", zap.Int64("user_id", senderID), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	m.rooms.BroadcastToRoom(roomName, broadcastEnvelope(senderID, s.Username(), msg.Content, roomName), senderID)
}

// HandlePrivateMessage delivers a message to one online user. The recipient
// must exist and be online, and must not be the sender; the sender receives
// an echo copy on success.
func (m *MessageService) HandlePrivateMessage(ctx context.Context, s *session.Session, req *protocol.PrivateMessageRequest) {
	senderID := s.UserID()
	roomName := m.rooms.CurrentRoomName(senderID)
	if roomName == "" {
		s.Send(protocol.NewError("You are not in any room. Join a room to send messages.", codeNotInRoom))
		return
	}

	target := m.sessions.FindByUsername(req.ToUsername)
	if target == nil || !target.IsAuthenticated() {
		s.Send(protocol.NewError("The user you are trying to message does not exist or is not online.", codeNoSuchUser))
		return
	}
	if target.UserID() == senderID {
		s.Send(protocol.NewError("You cannot send a private message to yourself.", codeBadRequest))
		return
	}

	roomID, err := m.rooms.CurrentRoomID(ctx, senderID)
	if err != nil {
		m.log.Error("resolve room id failed", zap.Int64("user_id", senderID), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	record := &store.Message{RoomID: roomID, SenderID: senderID, Content: req.Content}
	if err := m.messages.Add(ctx, record); err != nil {
		m.log.Error("persist private message failed", zap.Int64("user_id", senderID), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	env := broadcastEnvelope(senderID, s.Username(), req.Content, roomName)
	target.Send(env)
	s.Send(env)
}

func broadcastEnvelope(fromID int64, fromName, content, roomName string) *protocol.Envelope {
	return &protocol.Envelope{
		Type: protocol.TypeMessageBroadcast,
		MessageBroadcast: &protocol.MessageBroadcast{
			FromUserID:   fromID,
			FromUsername: fromName,
			Content:      content,
			RoomName:     roomName,
			Timestamp:    time.Now().UTC(),
		},
	}
}
