// Package store provides the PostgreSQL persistence layer behind the
// auth core's CredentialStore, PasskeyStore and SettingsStore
// interfaces. Schema management runs through embedded goose migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/wwng2333/nexus-terminal-sub003/internal/store/migrations"
)

// DBTX is the subset of *sql.DB the repositories need, so they can run
// against a transaction as well.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager owns the database handle and the repositories built on it.
type Manager struct {
	db       *sql.DB
	users    *UserRepository
	passkeys *PasskeyRepository
	settings *SettingsRepository
}

// Open connects to dsn through the pgx stdlib driver and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Manager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	m := &Manager{
		db:       db,
		users:    NewUserRepository(db),
		passkeys: NewPasskeyRepository(db),
		settings: NewSettingsRepository(db),
	}
	if err := m.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return m, nil
}

// RunMigrations applies the embedded goose migrations.
func (m *Manager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, m.db, ".")
}

// Conn exposes the raw handle for health checks.
func (m *Manager) Conn() *sql.DB { return m.db }

// Close releases the database handle.
func (m *Manager) Close() error { return m.db.Close() }

// Users returns the account repository.
func (m *Manager) Users() *UserRepository { return m.users }

// Passkeys returns the WebAuthn credential repository.
func (m *Manager) Passkeys() *PasskeyRepository { return m.passkeys }

// Settings returns the key-value settings repository.
func (m *Manager) Settings() *SettingsRepository { return m.settings }
