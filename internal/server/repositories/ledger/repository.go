// Package ledger persists per-account ledger records. Every mutation is
// written through before it returns.
package ledger

import (
	"context"

	"github.com/Fides-Storage/Server-sub000/internal/server/models"
)

type Repository interface {
	// Create stores a new record or returns common.ErrorAlreadyExists.
	Create(ctx context.Context, a *models.Account) error
	// Load returns common.ErrorNotFound for an unknown account.
	Load(ctx context.Context, accountID string) (*models.Account, error)
	Persist(ctx context.Context, a *models.Account) error
	// Delete returns common.ErrorNotFound for an unknown account.
	Delete(ctx context.Context, accountID string) error
	// List returns every readable record. Records that fail to load are
	// skipped and reported through the joined error.
	List(ctx context.Context) ([]*models.Account, error)
}
