package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/filex"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
)

const recordExt = ".json"

// record is the on-disk JSON document.
type record struct {
	Version         int       `json:"version"`
	AccountID       string    `json:"accountId"`
	CredentialHash  string    `json:"credentialHash"`
	OwnedBlobs      []string  `json:"ownedBlobs"`
	KeyBlobID       string    `json:"keyBlobId"`
	QuotaLimitBytes int64     `json:"quotaLimitBytes"`
	QuotaUsedBytes  int64     `json:"quotaUsedBytes"`
	LastTouched     time.Time `json:"lastTouched"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toRecord(a *models.Account) record {
	blobs := a.OwnedBlobs
	if blobs == nil {
		blobs = []string{}
	}
	return record{
		Version:         common.RecordVersion,
		AccountID:       a.ID,
		CredentialHash:  a.CredentialHash,
		OwnedBlobs:      blobs,
		KeyBlobID:       a.KeyBlobID,
		QuotaLimitBytes: a.QuotaLimit,
		QuotaUsedBytes:  a.QuotaUsed,
		LastTouched:     a.LastTouched.UTC(),
		CreatedAt:       a.CreatedAt.UTC(),
	}
}

func (r record) account() *models.Account {
	a := &models.Account{
		Version:        r.Version,
		ID:             r.AccountID,
		CredentialHash: r.CredentialHash,
		OwnedBlobs:     r.OwnedBlobs,
		KeyBlobID:      r.KeyBlobID,
		QuotaLimit:     r.QuotaLimitBytes,
		QuotaUsed:      r.QuotaUsedBytes,
		LastTouched:    r.LastTouched,
		CreatedAt:      r.CreatedAt,
	}
	a.NormalizeBlobs()
	return a
}

// DiskRepository keeps one versioned JSON document per account under
// <root>/ledgers/<accountId>.json.
type DiskRepository struct {
	dir string
}

var _ Repository = (*DiskRepository)(nil)

func NewDiskRepository(root string) (*DiskRepository, error) {
	dir, err := filex.EnsureDir(filepath.Join(root, "ledgers"))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &DiskRepository{dir: dir}, nil
}

func (r *DiskRepository) path(accountID string) string {
	return filepath.Join(r.dir, accountID+recordExt)
}

func (r *DiskRepository) Create(ctx context.Context, a *models.Account) error {
	if err := models.ValidateAccountID(a.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(toRecord(a))
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ledger: create: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: create: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: create: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: create: %w", err)
	}

	// Link fails if the destination exists, so two registrations of the
	// same name cannot both succeed.
	if err := os.Link(tmp.Name(), r.path(a.ID)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("ledger: create: %w", err)
	}
	if err := filex.SyncDir(r.dir); err != nil {
		return fmt.Errorf("ledger: create: %w", err)
	}
	a.Version = common.RecordVersion
	return nil
}

func (r *DiskRepository) Load(ctx context.Context, accountID string) (*models.Account, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	return r.load(r.path(accountID))
}

func (r *DiskRepository) load(path string) (*models.Account, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", filepath.Base(path), err)
	}
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", filepath.Base(path), err)
	}
	if rec.Version != common.RecordVersion {
		return nil, fmt.Errorf("%w: %d in %s", common.ErrorUnsupportedVersion, rec.Version, filepath.Base(path))
	}
	return rec.account(), nil
}

func (r *DiskRepository) Persist(ctx context.Context, a *models.Account) error {
	if err := models.ValidateAccountID(a.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(toRecord(a))
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if err := filex.WriteFileAtomic(r.dir, r.path(a.ID), payload); err != nil {
		return fmt.Errorf("ledger: persist: %w", err)
	}
	a.Version = common.RecordVersion
	return nil
}

func (r *DiskRepository) Delete(ctx context.Context, accountID string) error {
	if err := models.ValidateAccountID(accountID); err != nil {
		return err
	}
	err := os.Remove(r.path(accountID))
	if errors.Is(err, fs.ErrNotExist) {
		return common.ErrorNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: delete: %w", err)
	}
	return filex.SyncDir(r.dir)
}

func (r *DiskRepository) List(ctx context.Context) ([]*models.Account, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	var (
		out  []*models.Account
		errs []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		a, err := r.load(filepath.Join(r.dir, name))
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, a)
	}
	return out, errors.Join(errs...)
}
