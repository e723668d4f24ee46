package userlock

import (
	"context"
	"fmt"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/dbx"
)

// PostgresLocker keeps one user_locks row per held lock.
type PostgresLocker struct {
	db dbx.DBTX
}

var _ Locker = (*PostgresLocker)(nil)

func NewPostgresLocker(db dbx.DBTX) *PostgresLocker {
	return &PostgresLocker{db: db}
}

func (l *PostgresLocker) Acquire(ctx context.Context, accountID string) (*Token, error) {
	t, err := newToken(accountID)
	if err != nil {
		return nil, fmt.Errorf("userlock: token: %w", err)
	}
	query :=
		`INSERT INTO user_locks (account_id, token)
		 VALUES ($1, $2)
		 ON CONFLICT (account_id) DO NOTHING
		 `
	res, err := l.db.ExecContext(ctx, query, accountID, t.value)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return nil, common.ErrorLocked
	}
	return t, nil
}

func (l *PostgresLocker) Release(ctx context.Context, t *Token) error {
	if t == nil || !t.release() {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM user_locks WHERE account_id = $1 AND token = $2`, t.AccountID, t.value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (l *PostgresLocker) ClearAll(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM user_locks`); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (l *PostgresLocker) IsLocked(ctx context.Context, accountID string) (bool, error) {
	var locked bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_locks WHERE account_id = $1)`, accountID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return locked, nil
}
