// Package service implements the chat request handlers: authentication,
// room membership, and message routing. Handlers receive decoded envelopes
// from the dispatcher, mutate shared state, call the persistence layer, and
// queue response envelopes onto sessions.
package service

import (
	"context"

	"relay-chat-server/internal/store"
)

// UserRepo is the account persistence surface the services depend on.
// Lookups return (nil, nil) for absent rows.
type UserRepo interface {
	FindByUsername(ctx context.Context, username string) (*store.User, error)
	FindByID(ctx context.Context, id int64) (*store.User, error)
	Add(ctx context.Context, u *store.User) error
	Update(ctx context.Context, u *store.User) error
}

// RoomRepo persists room rows.
type RoomRepo interface {
	FindByName(ctx context.Context, name string) (*store.Room, error)
	Add(ctx context.Context, room *store.Room) error
}

// MessageRepo persists chat messages.
type MessageRepo interface {
	Add(ctx context.Context, m *store.Message) error
	LatestByRoom(ctx context.Context, roomID int64, limit int) ([]store.Message, error)
}

const (
	codeInternal   = 500
	codeNotInRoom  = 403
	codeNoSuchUser = 404
	codeBadRequest = 400
)
