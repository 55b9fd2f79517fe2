package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// User is a persisted account row.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Room is a persisted room row. Distinct from the in-memory active room: a
// persisted room may have zero connected members.
type Room struct {
	ID        int64
	Name      string
	CreatorID int64
	CreatedAt time.Time
}

// Message is a persisted chat message row.
type Message struct {
	ID        int64
	RoomID    int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
}

// conn is the pooled handle wrapping one dedicated database connection.
type conn struct {
	c *sql.Conn
}

func (c *conn) Close() error { return c.c.Close() }

// Store owns the database, the bounded connection pool, and the
// repositories layered on it.
type Store struct {
	db   *sql.DB
	pool *Pool

	Users    *UserRepository
	Rooms    *RoomRepository
	Messages *MessageRepository
}

// Open connects to Postgres and eagerly fills a pool of poolSize dedicated
// connections.
func Open(ctx context.Context, dsn string, poolSize int, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The bounded pool below is the only checkout path; database/sql just
	// tracks the dedicated connections it hands out.
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxLifetime(0)

	factory := func(ctx context.Context) (Handle, error) {
		c, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.PingContext(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
		return &conn{c: c}, nil
	}

	pool, err := NewPool(ctx, poolSize, factory, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, pool: pool}
	s.Users = &UserRepository{pool: pool}
	s.Rooms = &RoomRepository{pool: pool}
	s.Messages = &MessageRepository{pool: pool}
	return s, nil
}

// Pool exposes the underlying pool for metrics wiring.
func (s *Store) Pool() *Pool { return s.pool }

// Close releases pooled connections and the database.
func (s *Store) Close() {
	s.pool.Close()
	_ = s.db.Close()
}

// sqlConn extracts the database connection from a pooled handle.
func sqlConn(h Handle) *sql.Conn {
	return h.(*conn).c
}
