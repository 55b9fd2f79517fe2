package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UserRepository persists accounts. Lookups return (nil, nil) when no row
// matches; only transport or query failures surface as errors.
type UserRepository struct {
	pool *Pool
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u *User
	err := r.pool.With(ctx, func(h Handle) error {
		row := sqlConn(h).QueryRowContext(ctx,
			`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`,
			username)
		found, err := scanUser(row)
		u = found
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	var u *User
	err := r.pool.With(ctx, func(h Handle) error {
		row := sqlConn(h).QueryRowContext(ctx,
			`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`,
			id)
		found, err := scanUser(row)
		u = found
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return u, nil
}

// Add inserts the user and fills in the generated id and timestamp.
func (r *UserRepository) Add(ctx context.Context, u *User) error {
	err := r.pool.With(ctx, func(h Handle) error {
		return sqlConn(h).QueryRowContext(ctx,
			`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
			u.Username, u.PasswordHash).Scan(&u.ID, &u.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

func (r *UserRepository) Update(ctx context.Context, u *User) error {
	err := r.pool.With(ctx, func(h Handle) error {
		res, err := sqlConn(h).ExecContext(ctx,
			`UPDATE users SET username = $1, password_hash = $2 WHERE id = $3`,
			u.Username, u.PasswordHash, u.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no user with id %d", u.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (r *UserRepository) Remove(ctx context.Context, id int64) error {
	err := r.pool.With(ctx, func(h Handle) error {
		_, err := sqlConn(h).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
