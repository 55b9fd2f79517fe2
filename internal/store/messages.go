package store

import (
	"context"
	"fmt"
)

// MessageRepository persists chat messages.
type MessageRepository struct {
	pool *Pool
}

func (r *MessageRepository) Add(ctx context.Context, m *Message) error {
	err := r.pool.With(ctx, func(h Handle) error {
		return sqlConn(h).QueryRowContext(ctx,
			`INSERT INTO messages (room_id, sender_id, content) VALUES ($1, $2, $3) RETURNING id, created_at`,
			m.RoomID, m.SenderID, m.Content).Scan(&m.ID, &m.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Update(ctx context.Context, m *Message) error {
	err := r.pool.With(ctx, func(h Handle) error {
		res, err := sqlConn(h).ExecContext(ctx,
			`UPDATE messages SET content = $1 WHERE id = $2`,
			m.Content, m.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no message with id %d", m.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (r *MessageRepository) Remove(ctx context.Context, id int64) error {
	err := r.pool.With(ctx, func(h Handle) error {
		_, err := sqlConn(h).ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove message: %w", err)
	}
	return nil
}

// LatestByRoom returns up to limit of the room's most recent messages,
// newest first.
func (r *MessageRepository) LatestByRoom(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	var out []Message
	err := r.pool.With(ctx, func(h Handle) error {
		rows, err := sqlConn(h).QueryContext(ctx,
			`SELECT id, room_id, sender_id, content, created_at
			 FROM messages WHERE room_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			roomID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("latest messages by room: %w", err)
	}
	return out, nil
}
