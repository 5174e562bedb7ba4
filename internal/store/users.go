package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
)

// UserRepository implements nexusterminal.CredentialStore on Postgres.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*nexusterminal.User, error) {
	query := `SELECT id, username, password_hash, totp_secret FROM users
	          WHERE username = $1`

	user := &nexusterminal.User{}
	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.TOTPSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nexusterminal.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*nexusterminal.User, error) {
	query := `SELECT id, username, password_hash, totp_secret FROM users
	          WHERE id = $1`

	user := &nexusterminal.User{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.TOTPSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nexusterminal.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *UserRepository) CreateUser(ctx context.Context, user *nexusterminal.User) error {
	query := `INSERT INTO users (id, username, password_hash, totp_secret)
	          VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.TOTPSecret); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateOne(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *UserRepository) SetTOTPSecret(ctx context.Context, id, secret string) error {
	return r.updateOne(ctx,
		`UPDATE users SET totp_secret = $2 WHERE id = $1`, id, secret)
}

func (r *UserRepository) ClearTOTPSecret(ctx context.Context, id string) error {
	return r.updateOne(ctx,
		`UPDATE users SET totp_secret = '' WHERE id = $1`, id)
}

func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *UserRepository) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return nexusterminal.ErrUserNotFound
	}
	return nil
}
