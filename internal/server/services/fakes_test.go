package services

import (
	"context"
	"sync"
	"testing"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/config"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

// memLedger is an in-memory ledger.Repository with an injectable persist
// failure.
type memLedger struct {
	mu         sync.Mutex
	records    map[string]*models.Account
	persistErr error
	persists   int
}

func newMemLedger() *memLedger {
	return &memLedger{records: map[string]*models.Account{}}
}

func (m *memLedger) Create(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.ID]; ok {
		return common.ErrorAlreadyExists
	}
	a.Version = common.RecordVersion
	m.records[a.ID] = a.Clone()
	return nil
}

func (m *memLedger) Load(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return a.Clone(), nil
}

func (m *memLedger) Persist(ctx context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists++
	if m.persistErr != nil {
		return m.persistErr
	}
	m.records[a.ID] = a.Clone()
	return nil
}

func (m *memLedger) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return common.ErrorNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memLedger) List(ctx context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.records {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (m *memLedger) setPersistErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErr = err
}

type fixture struct {
	ledger *memLedger
	blobs  *blobstore.DiskStore
	locker *userlock.DiskLocker
	users  *UserService
	files  *FileService
}

func newFixture(t *testing.T, quota int64) *fixture {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.NewDiskStore(root, 16)
	require.NoError(t, err)
	locker, err := userlock.NewDiskLocker(root)
	require.NoError(t, err)
	l := newMemLedger()
	cfg := &config.Config{DefaultQuota: quota}
	return &fixture{
		ledger: l,
		blobs:  blobs,
		locker: locker,
		users:  NewUserService(l, locker, blobs, cfg),
		files:  NewFileService(l, blobs, nopLogger{}),
	}
}

// login registers name and returns a fresh binding.
func (f *fixture) login(t *testing.T, name string) *Binding {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.users.Register(ctx, name, "cred-"+name))
	b, err := f.users.Login(ctx, name, "cred-"+name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.users.Logout(context.Background(), b) })
	return b
}
