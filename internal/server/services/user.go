// Package services contains server-side business logic. UserService handles
// registration, authentication and binding a session to an account;
// FileService implements the per-file actions on a bound account.
package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/config"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
)

// AccountID derives the stable account identifier from a username.
func AccountID(username string) string {
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])
}

// Binding is an authenticated account together with the lock that keeps
// other sessions out of it.
type Binding struct {
	Account *models.Account
	Token   *userlock.Token
}

type UserService struct {
	ledger       ledger.Repository
	locker       userlock.Locker
	blobs        blobstore.Store
	defaultQuota int64
	dummyHash    string
	now          func() time.Time
}

// NewUserService constructs a UserService using the ledger and lock backends
// and the server config.
func NewUserService(l ledger.Repository, lk userlock.Locker, blobs blobstore.Store, cfg *config.Config) *UserService {
	dummy, err := common.MakeRandHexString(32)
	if err != nil {
		dummy = string(make([]byte, 64))
	}
	return &UserService{
		ledger:       l,
		locker:       lk,
		blobs:        blobs,
		defaultQuota: cfg.DefaultQuota,
		dummyHash:    dummy,
		now:          time.Now,
	}
}

// Register creates a ledger with an empty key file. An existing account
// yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, username, credentialHash string) error {
	if username == "" || credentialHash == "" {
		return fmt.Errorf("%w: missing username or credential", common.ErrorValidation)
	}
	keyID, err := s.blobs.Allocate(ctx)
	if err != nil {
		return fmt.Errorf("error allocating key file: %w", err)
	}
	now := s.now().UTC()
	a := &models.Account{
		ID:             AccountID(username),
		CredentialHash: credentialHash,
		KeyBlobID:      keyID,
		QuotaLimit:     s.defaultQuota,
		LastTouched:    now,
		CreatedAt:      now,
	}
	if err := s.ledger.Create(ctx, a); err != nil {
		if _, derr := s.blobs.Delete(ctx, keyID); derr != nil {
			err = errors.Join(err, derr)
		}
		if errors.Is(err, common.ErrorAlreadyExists) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("error creating account: %w", err)
	}
	return nil
}

// Authenticate checks a credential hash. Unknown accounts and wrong
// credentials both return common.ErrorUnauthorized after a constant-time
// comparison.
func (s *UserService) Authenticate(ctx context.Context, username, credentialHash string) (*models.Account, error) {
	if username == "" || credentialHash == "" {
		return nil, fmt.Errorf("%w: missing username or credential", common.ErrorValidation)
	}
	a, err := s.ledger.Load(ctx, AccountID(username))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.checkCredential(s.dummyHash, credentialHash)
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	if !s.checkCredential(a.CredentialHash, credentialHash) {
		return nil, common.ErrorUnauthorized
	}
	return a, nil
}

// Login authenticates, takes the account lock and stamps the access time.
// A held lock yields common.ErrorLocked. The ledger is reloaded under the
// lock so the binding reflects the last session's writes.
func (s *UserService) Login(ctx context.Context, username, credentialHash string) (*Binding, error) {
	a, err := s.Authenticate(ctx, username, credentialHash)
	if err != nil {
		return nil, err
	}
	tok, err := s.locker.Acquire(ctx, a.ID)
	if err != nil {
		if errors.Is(err, common.ErrorLocked) {
			return nil, common.ErrorLocked
		}
		return nil, fmt.Errorf("error acquiring lock: %w", err)
	}

	fresh, err := s.ledger.Load(ctx, a.ID)
	if err != nil {
		_ = s.locker.Release(ctx, tok)
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	if err := touch(ctx, s.ledger, fresh, s.now()); err != nil {
		_ = s.locker.Release(ctx, tok)
		return nil, err
	}
	return &Binding{Account: fresh, Token: tok}, nil
}

// Logout releases the binding's lock. Safe to call more than once.
func (s *UserService) Logout(ctx context.Context, b *Binding) error {
	if b == nil {
		return nil
	}
	return s.locker.Release(ctx, b.Token)
}

func (s *UserService) checkCredential(stored, candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// touch persists a new access time, leaving a unchanged on failure.
func touch(ctx context.Context, l ledger.Repository, a *models.Account, now time.Time) error {
	next := a.Clone()
	next.LastTouched = now.UTC()
	if err := l.Persist(ctx, next); err != nil {
		return fmt.Errorf("error persisting account: %w", err)
	}
	*a = *next
	return nil
}
