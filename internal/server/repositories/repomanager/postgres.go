// Package repomanager builds the ledger and lock backends selected by
// configuration and runs schema migrations for the PostgreSQL backend.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Fides-Storage/Server-sub000/internal/server/migrations"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	db     *sql.DB
	ledger *ledger.PostgresRepository
	locker *userlock.PostgresLocker
}

// sqlOpen is a seam for testing sql.Open.
var sqlOpen = sql.Open

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// OpenPostgres opens the database at dsn with the pgx driver and wraps it.
func OpenPostgres(ctx context.Context, dsn string) (RepositoryManager, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return NewPostgresRepositoryManager(db), nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{
		db:     db,
		ledger: ledger.NewPostgresRepository(db),
		locker: userlock.NewPostgresLocker(db),
	}
}

// Ledger returns the accounts-table ledger.
func (m *PostgresRepositoryManager) Ledger() ledger.Repository { return m.ledger }

// Locker returns the user_locks-table locker.
func (m *PostgresRepositoryManager) Locker() userlock.Locker { return m.locker }

// RunMigrations sets up goose with the embedded migrations and runs them
// against the managed connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
