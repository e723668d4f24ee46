package repomanager

import (
	"context"
	"fmt"

	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
)

// DiskRepositoryManager keeps ledgers and lock markers under a storage root.
type DiskRepositoryManager struct {
	ledger *ledger.DiskRepository
	locker *userlock.DiskLocker
}

func NewDiskRepositoryManager(root string) (RepositoryManager, error) {
	l, err := ledger.NewDiskRepository(root)
	if err != nil {
		return nil, fmt.Errorf("ledger init error: %w", err)
	}
	lk, err := userlock.NewDiskLocker(root)
	if err != nil {
		return nil, fmt.Errorf("lock init error: %w", err)
	}
	return &DiskRepositoryManager{ledger: l, locker: lk}, nil
}

// RunMigrations is a no-op; directories are created by the constructors.
func (m *DiskRepositoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *DiskRepositoryManager) Ledger() ledger.Repository { return m.ledger }

func (m *DiskRepositoryManager) Locker() userlock.Locker { return m.locker }

func (m *DiskRepositoryManager) Close() error { return nil }
