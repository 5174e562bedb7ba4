package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	nexusterminal "github.com/wwng2333/nexus-terminal-sub003"
)

// PasskeyRepository implements nexusterminal.PasskeyStore on Postgres.
// Transports are stored as a JSON array in a text column.
type PasskeyRepository struct {
	db DBTX
}

func NewPasskeyRepository(db DBTX) *PasskeyRepository {
	return &PasskeyRepository{db: db}
}

func (r *PasskeyRepository) Create(ctx context.Context, cred *nexusterminal.PasskeyCredential) error {
	transports, err := json.Marshal(cred.Transports)
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}

	query := `INSERT INTO passkey_credentials
	          (id, user_id, credential_id, public_key, sign_count, transports, name, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.db.ExecContext(ctx, query,
		cred.ID, cred.UserID, cred.CredentialID, cred.PublicKey,
		int64(cred.SignCount), string(transports), cred.Name, cred.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PasskeyRepository) List(ctx context.Context) ([]nexusterminal.PasskeyCredential, error) {
	query := `SELECT id, user_id, credential_id, public_key, sign_count,
	                 transports, name, created_at, last_used_at
	          FROM passkey_credentials
	          ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	creds := []nexusterminal.PasskeyCredential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return creds, nil
}

func (r *PasskeyRepository) GetByCredentialID(ctx context.Context, credentialID string) (*nexusterminal.PasskeyCredential, error) {
	query := `SELECT id, user_id, credential_id, public_key, sign_count,
	                 transports, name, created_at, last_used_at
	          FROM passkey_credentials
	          WHERE credential_id = $1`

	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, credentialID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nexusterminal.ErrPasskeyNotFound
		}
		return nil, err
	}
	return cred, nil
}

func (r *PasskeyRepository) UpdateSignCount(ctx context.Context, credentialID string, signCount uint32) error {
	query := `UPDATE passkey_credentials
	          SET sign_count = $2, last_used_at = now()
	          WHERE credential_id = $1`

	res, err := r.db.ExecContext(ctx, query, credentialID, int64(signCount))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return nexusterminal.ErrPasskeyNotFound
	}
	return nil
}

func (r *PasskeyRepository) Rename(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passkey_credentials SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return nexusterminal.ErrPasskeyNotFound
	}
	return nil
}

func (r *PasskeyRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM passkey_credentials WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*nexusterminal.PasskeyCredential, error) {
	cred := &nexusterminal.PasskeyCredential{}
	var (
		signCount  int64
		transports string
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&cred.ID, &cred.UserID, &cred.CredentialID, &cred.PublicKey,
		&signCount, &transports, &cred.Name, &cred.CreatedAt, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	cred.SignCount = uint32(signCount)
	if transports != "" {
		if err := json.Unmarshal([]byte(transports), &cred.Transports); err != nil {
			return nil, fmt.Errorf("decode transports: %w", err)
		}
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cred.LastUsedAt = &t
	}
	return cred, nil
}
