package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/session"
	"relay-chat-server/internal/store"
)

// memUsers is an in-memory UserRepo matching the repository contract:
// lookups return (nil, nil) for absent rows and Add assigns the id.
type memUsers struct {
	mu     sync.Mutex
	rows   map[int64]store.User
	nextID int64
	err    error
}

func newMemUsers() *memUsers {
	return &memUsers{rows: make(map[int64]store.User)}
}

func (r *memUsers) seed(username, passwordHash string) *store.User {
	u := &store.User{Username: username, PasswordHash: passwordHash}
	_ = r.Add(context.Background(), u)
	return u
}

func (r *memUsers) FindByUsername(_ context.Context, username string) (*store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.rows {
		if u.Username == username {
			copied := u
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memUsers) FindByID(_ context.Context, id int64) (*store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	copied := u
	return &copied, nil
}

func (r *memUsers) Add(_ context.Context, u *store.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now().UTC()
	r.rows[u.ID] = *u
	return nil
}

func (r *memUsers) Update(_ context.Context, u *store.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.rows[u.ID]; !ok {
		return fmt.Errorf("user %d not found", u.ID)
	}
	r.rows[u.ID] = *u
	return nil
}

// memRooms is an in-memory RoomRepo.
type memRooms struct {
	mu     sync.Mutex
	rows   map[int64]store.Room
	nextID int64
	err    error
}

func newMemRooms() *memRooms {
	return &memRooms{rows: make(map[int64]store.Room)}
}

func (r *memRooms) seed(name string, creatorID int64) *store.Room {
	room := &store.Room{Name: name, CreatorID: creatorID}
	_ = r.Add(context.Background(), room)
	return room
}

func (r *memRooms) FindByName(_ context.Context, name string) (*store.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, room := range r.rows {
		if room.Name == name {
			copied := room
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memRooms) Add(_ context.Context, room *store.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	room.ID = r.nextID
	room.CreatedAt = time.Now().UTC()
	r.rows[room.ID] = *room
	return nil
}

// memMessages is an in-memory MessageRepo. LatestByRoom returns newest first,
// like the SQL repository.
type memMessages struct {
	mu     sync.Mutex
	rows   []store.Message
	nextID int64
	err    error
}

func newMemMessages() *memMessages { return &memMessages{} }

func (r *memMessages) Add(_ context.Context, m *store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.nextID++
	m.ID = r.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, *m)
	return nil
}

func (r *memMessages) LatestByRoom(_ context.Context, roomID int64, limit int) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []store.Message
	for i := len(r.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if r.rows[i].RoomID == roomID {
			out = append(out, r.rows[i])
		}
	}
	return out, nil
}

func (r *memMessages) all() []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Message(nil), r.rows...)
}

// testClient is one fake connected user: a real session over a pipe plus a
// channel of everything the server side sends it.
type testClient struct {
	sess   *session.Session
	frames <-chan *protocol.Envelope
}

var sessionIDs uint64

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	server, peer := net.Pipe()
	sessionIDs++
	s := session.New(sessionIDs, server, zap.NewNop(), nil)
	t.Cleanup(func() {
		s.Close()
		_ = peer.Close()
	})

	ch := make(chan *protocol.Envelope, 256)
	go func() {
		defer close(ch)
		for {
			body, err := protocol.ReadFrame(peer)
			if err != nil {
				return
			}
			env, err := protocol.DecodeEnvelope(body)
			if err != nil {
				return
			}
			ch <- env
		}
	}()
	return &testClient{sess: s, frames: ch}
}

// authedClient returns a client whose session carries the given identity.
func authedClient(t *testing.T, userID int64, username string) *testClient {
	t.Helper()
	c := newTestClient(t)
	c.sess.SetAuthenticated(userID, username)
	return c
}

// recv waits for the next envelope sent to the client.
func (c *testClient) recv(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.frames:
		if !ok {
			t.Fatal("client connection closed while waiting for an envelope")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return nil
	}
}

// expectNone asserts that no envelope reaches the client in a short window.
func (c *testClient) expectNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.frames:
		t.Fatalf("unexpected envelope %q", env.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
