package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/dbx"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
)

// PostgresRepository stores accounts in the accounts table and owned blob
// identifiers in account_blobs.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Account) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query :=
			`INSERT INTO accounts (id, version, credential_hash, key_blob_id, quota_limit, quota_used, last_touched, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING
			 `
		res, err := tx.ExecContext(ctx, query,
			a.ID, common.RecordVersion, a.CredentialHash, a.KeyBlobID, a.QuotaLimit, a.QuotaUsed, a.LastTouched.UTC(), a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := dbx.RowsAffected(res)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return common.ErrorAlreadyExists
		}
		if err := insertBlobs(ctx, tx, a.ID, a.OwnedBlobs); err != nil {
			return err
		}
		a.Version = common.RecordVersion
		return nil
	})
}

func insertBlobs(ctx context.Context, tx dbx.DBTX, accountID string, blobs []string) error {
	for _, id := range blobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_blobs (account_id, blob_id) VALUES ($1, $2)`, accountID, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context, accountID string) (*models.Account, error) {
	query :=
		`SELECT id, version, credential_hash, key_blob_id, quota_limit, quota_used, last_touched, created_at
		 FROM accounts
		 WHERE id = $1
		 `
	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&a.ID, &a.Version, &a.CredentialHash, &a.KeyBlobID, &a.QuotaLimit, &a.QuotaUsed, &a.LastTouched, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if a.Version != common.RecordVersion {
		return nil, fmt.Errorf("%w: %d", common.ErrorUnsupportedVersion, a.Version)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT blob_id FROM account_blobs WHERE account_id = $1 ORDER BY blob_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.OwnedBlobs = append(a.OwnedBlobs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.NormalizeBlobs()
	return a, nil
}

func (r *PostgresRepository) Persist(ctx context.Context, a *models.Account) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query :=
			`UPDATE accounts
			 SET version = $2, credential_hash = $3, key_blob_id = $4, quota_limit = $5, quota_used = $6, last_touched = $7
			 WHERE id = $1
			 `
		res, err := tx.ExecContext(ctx, query,
			a.ID, common.RecordVersion, a.CredentialHash, a.KeyBlobID, a.QuotaLimit, a.QuotaUsed, a.LastTouched.UTC())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := dbx.RowsAffected(res)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return common.ErrorNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM account_blobs WHERE account_id = $1`, a.ID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := insertBlobs(ctx, tx, a.ID, a.OwnedBlobs); err != nil {
			return err
		}
		a.Version = common.RecordVersion
		return nil
	})
}

// Delete removes the account; account_blobs rows go with it through the
// foreign key cascade.
func (r *PostgresRepository) Delete(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := dbx.RowsAffected(res)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version, credential_hash, key_blob_id, quota_limit, quota_used, last_touched, created_at
		 FROM accounts
		 ORDER BY id
		 `)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	var (
		out  []*models.Account
		byID = map[string]*models.Account{}
		errs []error
	)
	for rows.Next() {
		a := &models.Account{}
		if err := rows.Scan(&a.ID, &a.Version, &a.CredentialHash, &a.KeyBlobID, &a.QuotaLimit, &a.QuotaUsed, &a.LastTouched, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("db error: %w", err)
		}
		if a.Version != common.RecordVersion {
			errs = append(errs, fmt.Errorf("%w: %d for %s", common.ErrorUnsupportedVersion, a.Version, a.ID))
			continue
		}
		out = append(out, a)
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}
	rows.Close()

	blobRows, err := r.db.QueryContext(ctx,
		`SELECT account_id, blob_id FROM account_blobs ORDER BY account_id, blob_id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer blobRows.Close()
	for blobRows.Next() {
		var accountID, blobID string
		if err := blobRows.Scan(&accountID, &blobID); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if a, ok := byID[accountID]; ok {
			a.OwnedBlobs = append(a.OwnedBlobs, blobID)
		}
	}
	if err := blobRows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, errors.Join(errs...)
}
