package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"relay-chat-server/internal/metrics"
	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/session"
	"relay-chat-server/internal/store"
)

// activeRoom is the in-memory, membership-only view of a room. It exists
// only while at least one user is joined; the persisted row may outlive it.
type activeRoom struct {
	id        int64 // persisted room id, 0 until resolved
	creatorID int64
	name      string
	members   map[int64]*session.Session
}

// RoomService is the room-membership state machine. The active-room table
// and the user-to-room map are mutated together under one mutex; the two
// stay bidirectionally consistent at every unlock.
type RoomService struct {
	rooms    RoomRepo
	users    UserRepo
	messages MessageRepo
	log      *zap.Logger
	metrics  *metrics.Registry

	defaultHistoryLimit int
	maxHistoryLimit     int

	mu       sync.Mutex
	active   map[string]*activeRoom
	userRoom map[int64]string
}

func NewRoomService(rooms RoomRepo, users UserRepo, messages MessageRepo, log *zap.Logger, reg *metrics.Registry) *RoomService {
	return &RoomService{
		rooms:               rooms,
		users:               users,
		messages:            messages,
		log:                 log,
		metrics:             reg,
		defaultHistoryLimit: 50,
		maxHistoryLimit:     200,
		active:              make(map[string]*activeRoom),
		userRoom:            make(map[int64]string),
	}
}

// SetHistoryLimits overrides the default and maximum history fetch sizes.
func (r *RoomService) SetHistoryLimits(def, max int) {
	if def > 0 {
		r.defaultHistoryLimit = def
	}
	if max > 0 {
		r.maxHistoryLimit = max
	}
}

// HandleRoomOperation executes a join, leave, or create request and always
// answers the requester with a RoomOperationResponse.
func (r *RoomService) HandleRoomOperation(ctx context.Context, s *session.Session, req *protocol.RoomOperationRequest) {
	resp := &protocol.RoomOperationResponse{Operation: req.Operation, RoomName: req.RoomName}

	switch req.Operation {
	case protocol.RoomOpJoin:
		r.join(s, req.RoomName)
		resp.Success = true
		resp.Message = "Joined room " + req.RoomName + " successfully."
	case protocol.RoomOpLeave:
		r.leave(s, req.RoomName)
		resp.Success = true
		resp.Message = "Left room " + req.RoomName + " successfully."
	case protocol.RoomOpCreate:
		ok, msg := r.create(ctx, s, req.RoomName)
		resp.Success = ok
		resp.Message = msg
	default:
		resp.Success = false
		resp.Message = "Unknown operation."
	}

	s.Send(&protocol.Envelope{Type: protocol.TypeRoomOperationResponse, RoomOperationResponse: resp})
}

// join moves the user into roomName, evicting them from any previous room
// first, and notifies the room's other members.
func (r *RoomService) join(s *session.Session, roomName string) {
	userID := s.UserID()

	r.mu.Lock()
	r.evictLocked(userID)
	r.insertLocked(s, roomName)
	others := r.membersLocked(roomName, userID)
	r.mu.Unlock()

	note := userNotification(protocol.EventUserJoined, userID, s.Username(),
		"User "+s.Username()+" has joined the room.")
	deliver(others, note)
}

// leave removes the user from roomName only if it is their current room;
// otherwise it is a silent no-op.
func (r *RoomService) leave(s *session.Session, roomName string) {
	userID := s.UserID()

	r.mu.Lock()
	var remaining []*session.Session
	if r.userRoom[userID] == roomName {
		r.evictLocked(userID)
		remaining = r.membersLocked(roomName, userID)
	}
	r.mu.Unlock()

	if remaining != nil {
		note := userNotification(protocol.EventUserLeft, userID, s.Username(),
			"User "+s.Username()+" has left the room.")
		deliver(remaining, note)
	}
}

// create persists a new room and joins the creator to it. Unlike the join
// path the membership insert records the persisted id and creator
// immediately. The creator is evicted from any previous room the same way
// join evicts, keeping the membership maps consistent.
func (r *RoomService) create(ctx context.Context, s *session.Session, roomName string) (bool, string) {
	existing, err := r.rooms.FindByName(ctx, roomName)
	if err != nil {
		r.log.Error("room existence check failed", zap.String("room", roomName), zap.Error(err))
		return false, "Internal server error."
	}
	if existing != nil {
		return false, "Room name '" + roomName + "' is already taken."
	}

	userID := s.UserID()
	room := &store.Room{Name: roomName, CreatorID: userID}
	if err := r.rooms.Add(ctx, room); err != nil {
		r.log.Error("room insert failed", zap.String("room", roomName), zap.Error(err))
		return false, "Internal server error."
	}

	r.mu.Lock()
	r.evictLocked(userID)
	ar := r.insertLocked(s, roomName)
	ar.id = room.ID
	ar.creatorID = userID
	r.mu.Unlock()

	return true, "Created room " + roomName + " successfully."
}

// HandleDisconnect removes a departing user from their current room, driven
// by session teardown rather than a client request.
func (r *RoomService) HandleDisconnect(s *session.Session) {
	if !s.IsAuthenticated() {
		return
	}
	userID := s.UserID()

	r.mu.Lock()
	roomName, ok := r.userRoom[userID]
	var remaining []*session.Session
	if ok {
		r.evictLocked(userID)
		remaining = r.membersLocked(roomName, userID)
	}
	r.mu.Unlock()

	if remaining != nil {
		note := userNotification(protocol.EventUserLeft, userID, s.Username(),
			"User "+s.Username()+" has left the room.")
		deliver(remaining, note)
	}
}

// HandleHistoryRequest returns the newest persisted messages for the named
// room, each enriched with the sender's current username. Requests for rooms
// the user is not a member of are silently ignored.
func (r *RoomService) HandleHistoryRequest(ctx context.Context, s *session.Session, req *protocol.HistoryRequest) {
	userID := s.UserID()

	r.mu.Lock()
	member := r.userRoom[userID] == req.RoomName
	r.mu.Unlock()
	if !member {
		r.log.Warn("history request for room user is not in",
			zap.Int64("user_id", userID), zap.String("room", req.RoomName))
		return
	}

	roomID, err := r.resolveRoomID(ctx, req.RoomName)
	if err != nil {
		r.log.Error("resolve room id failed", zap.String("room", req.RoomName), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	limit := r.defaultHistoryLimit
	if req.Limit > 0 {
		limit = int(req.Limit)
	}
	if limit > r.maxHistoryLimit {
		limit = r.maxHistoryLimit
	}

	msgs, err := r.messages.LatestByRoom(ctx, roomID, limit)
	if err != nil {
		r.log.Error("history fetch failed", zap.String("room", req.RoomName), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	resp := &protocol.HistoryResponse{RoomName: req.RoomName}
	for _, m := range msgs {
		name := ""
		if u, err := r.users.FindByID(ctx, m.SenderID); err == nil && u != nil {
			name = u.Username
		}
		resp.Messages = append(resp.Messages, protocol.HistoryMessage{
			FromUserID:   m.SenderID,
			FromUsername: name,
			Content:      m.Content,
			RoomName:     req.RoomName,
			Timestamp:    m.CreatedAt,
		})
	}
	s.Send(&protocol.Envelope{Type: protocol.TypeHistoryResponse, HistoryResponse: resp})
}

// CurrentRoomName reports the user's current room, or "" when not in one.
func (r *RoomService) CurrentRoomName(userID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userRoom[userID]
}

// CurrentRoomID resolves the persisted id of the user's current room. It
// returns 0 when the user is not in a room.
func (r *RoomService) CurrentRoomID(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	roomName, ok := r.userRoom[userID]
	r.mu.Unlock()
	if !ok {
		return 0, nil
	}
	return r.resolveRoomID(ctx, roomName)
}

// resolveRoomID returns the active room's persisted id, looking it up by
// name on first use. Rooms entered via join have no id until a message or
// history operation needs one.
func (r *RoomService) resolveRoomID(ctx context.Context, roomName string) (int64, error) {
	r.mu.Lock()
	ar, ok := r.active[roomName]
	if ok && ar.id != 0 {
		id := ar.id
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	room, err := r.rooms.FindByName(ctx, roomName)
	if err != nil {
		return 0, err
	}
	if room == nil {
		return 0, nil
	}

	r.mu.Lock()
	if ar, ok := r.active[roomName]; ok {
		ar.id = room.ID
		ar.creatorID = room.CreatorID
	}
	r.mu.Unlock()
	return room.ID, nil
}

// BroadcastToRoom delivers the envelope to every member of the room except
// excludeUserID (0 excludes no one). Members are snapshotted under the lock
// and delivery happens outside it, so a send can trigger further room
// operations without reentering the mutex.
func (r *RoomService) BroadcastToRoom(roomName string, env *protocol.Envelope, excludeUserID int64) {
	r.mu.Lock()
	recipients := r.membersLocked(roomName, excludeUserID)
	r.mu.Unlock()
	deliver(recipients, env)
}

// ActiveRoomCount reports the number of rooms with at least one member.
func (r *RoomService) ActiveRoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// evictLocked removes the user from their current room, deleting the active
// room once its member set empties. Caller holds r.mu.
func (r *RoomService) evictLocked(userID int64) {
	roomName, ok := r.userRoom[userID]
	if !ok {
		return
	}
	delete(r.userRoom, userID)
	ar, ok := r.active[roomName]
	if !ok {
		return
	}
	delete(ar.members, userID)
	if len(ar.members) == 0 {
		delete(r.active, roomName)
		if r.metrics != nil {
			r.metrics.Rooms.Active.Dec()
		}
	}
}

// insertLocked adds the user to roomName's active room, creating it if
// absent. Caller holds r.mu.
func (r *RoomService) insertLocked(s *session.Session, roomName string) *activeRoom {
	ar, ok := r.active[roomName]
	if !ok {
		ar = &activeRoom{name: roomName, members: make(map[int64]*session.Session)}
		r.active[roomName] = ar
		if r.metrics != nil {
			r.metrics.Rooms.Active.Inc()
		}
	}
	ar.members[s.UserID()] = s
	r.userRoom[s.UserID()] = roomName
	return ar
}

// membersLocked snapshots the room's member sessions except excludeUserID.
// Caller holds r.mu. Returns a non-nil slice whenever the room exists.
func (r *RoomService) membersLocked(roomName string, excludeUserID int64) []*session.Session {
	ar, ok := r.active[roomName]
	if !ok {
		return nil
	}
	out := make([]*session.Session, 0, len(ar.members))
	for id, member := range ar.members {
		if id != excludeUserID {
			out = append(out, member)
		}
	}
	return out
}

func deliver(recipients []*session.Session, env *protocol.Envelope) {
	for _, s := range recipients {
		s.Send(env)
	}
}

func userNotification(event protocol.UserEvent, userID int64, username, text string) *protocol.Envelope {
	return &protocol.Envelope{
		Type: protocol.TypeServerNotification,
		ServerNotification: &protocol.ServerNotification{
			Event:    event,
			UserID:   userID,
			Username: username,
			Message:  text,
		},
	}
}
