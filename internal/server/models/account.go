// Package models defines server-side records persisted by the ledger.
package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
)

// Account is the durable per-account ledger record. Usernames are never
// stored; ID is derived from the username by the client-facing layer.
type Account struct {
	Version        int
	ID             string
	CredentialHash string
	// OwnedBlobs is kept sorted and free of duplicates.
	OwnedBlobs  []string
	KeyBlobID   string
	QuotaLimit  int64
	QuotaUsed   int64
	LastTouched time.Time
	CreatedAt   time.Time
}

// Owns reports whether id is one of the account's files. The key blob is
// not a file and is never reported as owned.
func (a *Account) Owns(id string) bool {
	_, found := slices.BinarySearch(a.OwnedBlobs, id)
	return found
}

// AddBlob inserts id into OwnedBlobs, keeping the slice sorted.
func (a *Account) AddBlob(id string) {
	i, found := slices.BinarySearch(a.OwnedBlobs, id)
	if found {
		return
	}
	a.OwnedBlobs = slices.Insert(a.OwnedBlobs, i, id)
}

// RemoveBlob drops id and reports whether it was present.
func (a *Account) RemoveBlob(id string) bool {
	i, found := slices.BinarySearch(a.OwnedBlobs, id)
	if !found {
		return false
	}
	a.OwnedBlobs = slices.Delete(a.OwnedBlobs, i, i+1)
	return true
}

// Clone returns a deep copy, used to roll back in-memory changes when a
// persist fails.
func (a *Account) Clone() *Account {
	c := *a
	c.OwnedBlobs = slices.Clone(a.OwnedBlobs)
	return &c
}

// NormalizeBlobs sorts OwnedBlobs and removes duplicates. Loaders call it so
// hand-edited or legacy records still satisfy the ordering invariant.
func (a *Account) NormalizeBlobs() {
	slices.Sort(a.OwnedBlobs)
	a.OwnedBlobs = slices.Compact(a.OwnedBlobs)
}

// ValidateAccountID accepts only lowercase hex SHA-256 digests, which keeps
// account identifiers safe to use in file names.
func ValidateAccountID(id string) error {
	if len(id) != 64 {
		return fmt.Errorf("%w: malformed account id", common.ErrorValidation)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: malformed account id", common.ErrorValidation)
		}
	}
	return nil
}
