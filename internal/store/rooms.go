package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RoomRepository persists room rows.
type RoomRepository struct {
	pool *Pool
}

func (r *RoomRepository) FindByName(ctx context.Context, name string) (*Room, error) {
	var room *Room
	err := r.pool.With(ctx, func(h Handle) error {
		row := sqlConn(h).QueryRowContext(ctx,
			`SELECT id, name, creator_id, created_at FROM rooms WHERE name = $1`,
			name)
		found, err := scanRoom(row)
		room = found
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find room by name: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) FindByID(ctx context.Context, id int64) (*Room, error) {
	var room *Room
	err := r.pool.With(ctx, func(h Handle) error {
		row := sqlConn(h).QueryRowContext(ctx,
			`SELECT id, name, creator_id, created_at FROM rooms WHERE id = $1`,
			id)
		found, err := scanRoom(row)
		room = found
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find room by id: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) Add(ctx context.Context, room *Room) error {
	err := r.pool.With(ctx, func(h Handle) error {
		return sqlConn(h).QueryRowContext(ctx,
			`INSERT INTO rooms (name, creator_id) VALUES ($1, $2) RETURNING id, created_at`,
			room.Name, room.CreatorID).Scan(&room.ID, &room.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("add room: %w", err)
	}
	return nil
}

func (r *RoomRepository) Update(ctx context.Context, room *Room) error {
	err := r.pool.With(ctx, func(h Handle) error {
		res, err := sqlConn(h).ExecContext(ctx,
			`UPDATE rooms SET name = $1, creator_id = $2 WHERE id = $3`,
			room.Name, room.CreatorID, room.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no room with id %d", room.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	return nil
}

func (r *RoomRepository) Remove(ctx context.Context, id int64) error {
	err := r.pool.With(ctx, func(h Handle) error {
		_, err := sqlConn(h).ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove room: %w", err)
	}
	return nil
}

func scanRoom(row *sql.Row) (*Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}
