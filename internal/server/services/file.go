package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
)

// FileService combines the blob store, the quota-enforcing transfer and the
// ledger. Each method either completes fully, with the ledger persisted, or
// leaves the account and its blobs as they were.
//
// Methods take the account bound to the calling session and replace *a with
// the persisted state on success. Callers must hold the account's lock.
type FileService struct {
	ledger ledger.Repository
	blobs  blobstore.Store
	logger logging.Logger
	now    func() time.Time
}

func NewFileService(l ledger.Repository, blobs blobstore.Store, logger logging.Logger) *FileService {
	return &FileService{
		ledger: l,
		blobs:  blobs,
		logger: logger.With("module", "files"),
		now:    time.Now,
	}
}

// Upload stores src as a new file and returns its location.
func (s *FileService) Upload(ctx context.Context, a *models.Account, src io.Reader) (string, error) {
	id, err := s.blobs.Allocate(ctx)
	if err != nil {
		return "", fmt.Errorf("error allocating blob: %w", err)
	}
	guard := transfer.Additive(a.QuotaLimit, a.QuotaUsed)
	err = s.replace(ctx, a, id, src, guard, func(next *models.Account) {
		next.AddBlob(id)
	})
	if err != nil {
		if _, derr := s.blobs.Delete(ctx, id); derr != nil {
			s.logger.Warn(ctx, "failed to remove abandoned blob", "blob_id", id, "error", derr)
		}
		return "", err
	}
	return id, nil
}

// Update replaces the content of an owned, existing file.
func (s *FileService) Update(ctx context.Context, a *models.Account, id string, src io.Reader) error {
	old, err := s.ownedSize(ctx, a, id)
	if err != nil {
		return err
	}
	return s.replace(ctx, a, id, src, transfer.Replace(a.QuotaLimit, a.QuotaUsed, old), nil)
}

// UpdateKeyFile replaces the account's key file.
func (s *FileService) UpdateKeyFile(ctx context.Context, a *models.Account, src io.Reader) error {
	old, err := s.existingSize(ctx, a.KeyBlobID)
	if err != nil {
		return err
	}
	return s.replace(ctx, a, a.KeyBlobID, src, transfer.Replace(a.QuotaLimit, a.QuotaUsed, old), nil)
}

// replace stages src under id, publishes it and persists the ledger with the
// new quota usage. A persist failure reverts the publication.
func (s *FileService) replace(ctx context.Context, a *models.Account, id string, src io.Reader, guard transfer.Guard, mutate func(*models.Account)) error {
	staged, err := s.blobs.Stage(ctx, id, src, guard)
	if err != nil {
		if errors.Is(err, common.ErrorQuotaExceeded) {
			return common.ErrorQuotaExceeded
		}
		return fmt.Errorf("error staging blob: %w", err)
	}
	pub, err := staged.Publish(ctx)
	if err != nil {
		if derr := staged.Discard(); derr != nil {
			s.logger.Warn(ctx, "failed to discard staged content", "blob_id", id, "error", derr)
		}
		return fmt.Errorf("error publishing blob: %w", err)
	}

	next := a.Clone()
	if mutate != nil {
		mutate(next)
	}
	next.QuotaUsed = guard.UsedAfter(staged.Size())
	next.LastTouched = s.now().UTC()
	if err := s.ledger.Persist(ctx, next); err != nil {
		if rerr := pub.Revert(ctx); rerr != nil {
			s.logger.Error(ctx, "failed to revert published blob", "blob_id", id, "error", rerr)
		}
		return fmt.Errorf("error persisting account: %w", err)
	}
	if err := pub.Commit(ctx); err != nil {
		s.logger.Warn(ctx, "failed to drop blob backup", "blob_id", id, "error", err)
	}
	*a = *next
	return nil
}

// Remove deletes an owned file. The ledger is persisted first so a
// referenced blob always exists; a blob left behind by a failed delete is
// reclaimed by the sweeper.
func (s *FileService) Remove(ctx context.Context, a *models.Account, id string) error {
	size, err := s.ownedSize(ctx, a, id)
	if err != nil {
		return err
	}
	next := a.Clone()
	next.RemoveBlob(id)
	next.QuotaUsed = max(next.QuotaUsed-size, 0)
	next.LastTouched = s.now().UTC()
	if err := s.ledger.Persist(ctx, next); err != nil {
		return fmt.Errorf("error persisting account: %w", err)
	}
	*a = *next
	if _, err := s.blobs.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "failed to delete removed blob", "blob_id", id, "error", err)
	}
	return nil
}

// Locate checks that id is an owned, existing file and records the access.
func (s *FileService) Locate(ctx context.Context, a *models.Account, id string) error {
	if !a.Owns(id) {
		return common.ErrorNotFound
	}
	ok, err := s.blobs.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("error checking blob: %w", err)
	}
	if !ok {
		return common.ErrorNotFound
	}
	return touch(ctx, s.ledger, a, s.now())
}

// Touch records an access without touching any file.
func (s *FileService) Touch(ctx context.Context, a *models.Account) error {
	return touch(ctx, s.ledger, a, s.now())
}

// Read streams a file located by Locate into w.
func (s *FileService) Read(ctx context.Context, a *models.Account, id string, w io.Writer) (int64, error) {
	if !a.Owns(id) {
		return 0, common.ErrorNotFound
	}
	return s.blobs.Read(ctx, id, w)
}

// ReadKeyFile streams the key file into w. A missing key blob reads as empty.
func (s *FileService) ReadKeyFile(ctx context.Context, a *models.Account, w io.Writer) (int64, error) {
	n, err := s.blobs.Read(ctx, a.KeyBlobID, w)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "key file missing", "account_id", a.ID)
		return 0, nil
	}
	return n, err
}

// ownedSize returns the stored size of an owned file. A file the ledger
// lists but the store lacks is not found.
func (s *FileService) ownedSize(ctx context.Context, a *models.Account, id string) (int64, error) {
	if !a.Owns(id) {
		return 0, common.ErrorNotFound
	}
	size, err := s.blobs.Size(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "referenced blob missing", "blob_id", id)
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("error reading blob size: %w", err)
	}
	return size, nil
}

// existingSize returns the stored size of the key blob, treating a missing
// blob as empty so the account can recover by writing it again.
func (s *FileService) existingSize(ctx context.Context, id string) (int64, error) {
	size, err := s.blobs.Size(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "referenced blob missing", "blob_id", id)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading blob size: %w", err)
	}
	return size, nil
}
