package repomanager

import (
	"context"

	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
)

// RepositoryManager vends the ledger and lock backends that share one
// durable store.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Ledger() ledger.Repository
	Locker() userlock.Locker
	Close() error
}
