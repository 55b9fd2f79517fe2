package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/store"
)

func newRoomFixture(t *testing.T) (*RoomService, *memRooms, *memUsers, *memMessages) {
	t.Helper()
	users := newMemUsers()
	rooms := newMemRooms()
	messages := newMemMessages()
	svc := NewRoomService(rooms, users, messages, zap.NewNop(), nil)
	return svc, rooms, users, messages
}

func joinRoom(t *testing.T, svc *RoomService, c *testClient, roomName string) {
	t.Helper()
	svc.HandleRoomOperation(context.Background(), c.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpJoin,
		RoomName:  roomName,
	})
	env := c.recv(t)
	require.Equal(t, protocol.TypeRoomOperationResponse, env.Type)
	require.True(t, env.RoomOperationResponse.Success)
}

func TestJoinRespondsAndTracksMembership(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpJoin,
		RoomName:  "lobby",
	})

	env := alice.recv(t)
	require.Equal(t, protocol.TypeRoomOperationResponse, env.Type)
	require.NotNil(t, env.RoomOperationResponse)
	assert.True(t, env.RoomOperationResponse.Success)
	assert.Equal(t, protocol.RoomOpJoin, env.RoomOperationResponse.Operation)
	assert.Equal(t, "lobby", env.RoomOperationResponse.RoomName)
	assert.Equal(t, "Joined room lobby successfully.", env.RoomOperationResponse.Message)

	assert.Equal(t, "lobby", svc.CurrentRoomName(1))
	assert.Equal(t, 1, svc.ActiveRoomCount())
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	bob := authedClient(t, 2, "bob")
	joinRoom(t, svc, alice, "lobby")

	joinRoom(t, svc, bob, "lobby")

	env := alice.recv(t)
	require.Equal(t, protocol.TypeServerNotification, env.Type)
	require.NotNil(t, env.ServerNotification)
	assert.Equal(t, protocol.EventUserJoined, env.ServerNotification.Event)
	assert.Equal(t, int64(2), env.ServerNotification.UserID)
	assert.Equal(t, "bob", env.ServerNotification.Username)
	assert.Equal(t, "User bob has joined the room.", env.ServerNotification.Message)

	// The joiner gets only the operation response, not their own notification.
	bob.expectNone(t)
}

func TestJoinEvictsPreviousRoom(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	joinRoom(t, svc, alice, "lobby")

	joinRoom(t, svc, alice, "den")

	assert.Equal(t, "den", svc.CurrentRoomName(1))
	// The lobby emptied, so its active entry is gone.
	assert.Equal(t, 1, svc.ActiveRoomCount())
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	bob := authedClient(t, 2, "bob")
	joinRoom(t, svc, alice, "lobby")
	joinRoom(t, svc, bob, "lobby")
	alice.recv(t) // bob's join notification

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpLeave,
		RoomName:  "lobby",
	})

	resp := alice.recv(t)
	require.NotNil(t, resp.RoomOperationResponse)
	assert.True(t, resp.RoomOperationResponse.Success)
	assert.Equal(t, "Left room lobby successfully.", resp.RoomOperationResponse.Message)

	note := bob.recv(t)
	require.NotNil(t, note.ServerNotification)
	assert.Equal(t, protocol.EventUserLeft, note.ServerNotification.Event)
	assert.Equal(t, "User alice has left the room.", note.ServerNotification.Message)

	assert.Equal(t, "", svc.CurrentRoomName(1))
	assert.Equal(t, "lobby", svc.CurrentRoomName(2))
}

func TestLeaveOtherRoomKeepsMembership(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	joinRoom(t, svc, alice, "lobby")

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpLeave,
		RoomName:  "den",
	})

	alice.recv(t)
	assert.Equal(t, "lobby", svc.CurrentRoomName(1))
}

func TestCreatePersistsAndJoins(t *testing.T) {
	svc, rooms, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpCreate,
		RoomName:  "den",
	})

	env := alice.recv(t)
	require.NotNil(t, env.RoomOperationResponse)
	assert.True(t, env.RoomOperationResponse.Success)
	assert.Equal(t, "Created room den successfully.", env.RoomOperationResponse.Message)

	stored, err := rooms.FindByName(context.Background(), "den")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.CreatorID)

	assert.Equal(t, "den", svc.CurrentRoomName(1))
	id, err := svc.CurrentRoomID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)
}

func TestCreateDuplicateName(t *testing.T) {
	svc, rooms, _, _ := newRoomFixture(t)
	rooms.seed("den", 9)
	alice := authedClient(t, 1, "alice")

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpCreate,
		RoomName:  "den",
	})

	env := alice.recv(t)
	require.NotNil(t, env.RoomOperationResponse)
	assert.False(t, env.RoomOperationResponse.Success)
	assert.Equal(t, "Room name 'den' is already taken.", env.RoomOperationResponse.Message)
	assert.Equal(t, "", svc.CurrentRoomName(1))
}

func TestCreateEvictsPreviousMembership(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	bob := authedClient(t, 2, "bob")
	joinRoom(t, svc, alice, "lobby")
	joinRoom(t, svc, bob, "lobby")
	alice.recv(t) // bob's join notification

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOpCreate,
		RoomName:  "den",
	})
	env := alice.recv(t)
	require.True(t, env.RoomOperationResponse.Success)

	// Membership moved atomically: alice is in den only.
	assert.Equal(t, "den", svc.CurrentRoomName(1))
	svc.BroadcastToRoom("lobby", protocol.NewError("probe", 0), 0)
	probe := bob.recv(t)
	assert.NotNil(t, probe.ErrorResponse)
	alice.expectNone(t)
}

func TestUnknownOperation(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")

	svc.HandleRoomOperation(context.Background(), alice.sess, &protocol.RoomOperationRequest{
		Operation: protocol.RoomOp(99),
		RoomName:  "lobby",
	})

	env := alice.recv(t)
	require.NotNil(t, env.RoomOperationResponse)
	assert.False(t, env.RoomOperationResponse.Success)
	assert.Equal(t, "Unknown operation.", env.RoomOperationResponse.Message)
}

func TestDisconnectLeavesCurrentRoom(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	bob := authedClient(t, 2, "bob")
	joinRoom(t, svc, alice, "lobby")
	joinRoom(t, svc, bob, "lobby")
	alice.recv(t) // bob's join notification

	svc.HandleDisconnect(alice.sess)

	note := bob.recv(t)
	require.NotNil(t, note.ServerNotification)
	assert.Equal(t, protocol.EventUserLeft, note.ServerNotification.Event)
	assert.Equal(t, int64(1), note.ServerNotification.UserID)
	assert.Equal(t, "", svc.CurrentRoomName(1))
}

func TestDisconnectWithoutRoomIsNoop(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")

	svc.HandleDisconnect(alice.sess)

	assert.Equal(t, 0, svc.ActiveRoomCount())
}

func TestHistoryRequiresMembership(t *testing.T) {
	svc, rooms, _, messages := newRoomFixture(t)
	room := rooms.seed("lobby", 9)
	require.NoError(t, messages.Add(context.Background(), &store.Message{RoomID: room.ID, SenderID: 9, Content: "hi"}))
	alice := authedClient(t, 1, "alice")

	svc.HandleHistoryRequest(context.Background(), alice.sess, &protocol.HistoryRequest{RoomName: "lobby"})

	alice.expectNone(t)
}

func TestHistoryReturnsNewestWithUsernames(t *testing.T) {
	svc, rooms, users, messages := newRoomFixture(t)
	bob := users.seed("bob", "x")
	room := rooms.seed("lobby", bob.ID)
	for _, content := range []string{"first", "second", "third"} {
		require.NoError(t, messages.Add(context.Background(), &store.Message{
			RoomID: room.ID, SenderID: bob.ID, Content: content,
		}))
	}
	alice := authedClient(t, 7, "alice")
	joinRoom(t, svc, alice, "lobby")

	svc.HandleHistoryRequest(context.Background(), alice.sess, &protocol.HistoryRequest{RoomName: "lobby", Limit: 2})

	env := alice.recv(t)
	require.Equal(t, protocol.TypeHistoryResponse, env.Type)
	require.NotNil(t, env.HistoryResponse)
	assert.Equal(t, "lobby", env.HistoryResponse.RoomName)
	require.Len(t, env.HistoryResponse.Messages, 2)
	assert.Equal(t, "third", env.HistoryResponse.Messages[0].Content)
	assert.Equal(t, "second", env.HistoryResponse.Messages[1].Content)
	assert.Equal(t, "bob", env.HistoryResponse.Messages[0].FromUsername)
	assert.Equal(t, bob.ID, env.HistoryResponse.Messages[0].FromUserID)
}

func TestHistoryLimitClamping(t *testing.T) {
	svc, rooms, users, messages := newRoomFixture(t)
	bob := users.seed("bob", "x")
	room := rooms.seed("lobby", bob.ID)
	for i := 0; i < 10; i++ {
		require.NoError(t, messages.Add(context.Background(), &store.Message{
			RoomID: room.ID, SenderID: bob.ID, Content: "m",
		}))
	}
	svc.SetHistoryLimits(2, 3)
	alice := authedClient(t, 7, "alice")
	joinRoom(t, svc, alice, "lobby")

	// Zero limit falls back to the default.
	svc.HandleHistoryRequest(context.Background(), alice.sess, &protocol.HistoryRequest{RoomName: "lobby"})
	env := alice.recv(t)
	require.NotNil(t, env.HistoryResponse)
	assert.Len(t, env.HistoryResponse.Messages, 2)

	// An oversized limit is clamped to the maximum.
	svc.HandleHistoryRequest(context.Background(), alice.sess, &protocol.HistoryRequest{RoomName: "lobby", Limit: 100})
	env = alice.recv(t)
	require.NotNil(t, env.HistoryResponse)
	assert.Len(t, env.HistoryResponse.Messages, 3)
}

func TestJoinedRoomResolvesPersistedID(t *testing.T) {
	svc, rooms, _, _ := newRoomFixture(t)
	room := rooms.seed("lobby", 9)
	alice := authedClient(t, 1, "alice")
	joinRoom(t, svc, alice, "lobby")

	id, err := svc.CurrentRoomID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, room.ID, id)
}

func TestBroadcastToRoomExclusion(t *testing.T) {
	svc, _, _, _ := newRoomFixture(t)
	alice := authedClient(t, 1, "alice")
	bob := authedClient(t, 2, "bob")
	joinRoom(t, svc, alice, "lobby")
	joinRoom(t, svc, bob, "lobby")
	alice.recv(t) // bob's join notification

	svc.BroadcastToRoom("lobby", protocol.NewError("to everyone else", 0), 1)

	env := bob.recv(t)
	require.NotNil(t, env.ErrorResponse)
	assert.Equal(t, "to everyone else", env.ErrorResponse.Message)
	alice.expectNone(t)
}
