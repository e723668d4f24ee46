// Package blobstore stores opaque file content under server-generated
// identifiers. It enforces uniqueness and existence only; ownership and
// quota policy belong to the caller.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
	"github.com/google/uuid"
)

// maxAllocateAttempts bounds identifier generation retries. Hitting it means
// the identifier source or the storage layer is broken, not bad luck.
const maxAllocateAttempts = 8

// Info describes a stored blob.
type Info struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// Store is implemented by every blob backend.
type Store interface {
	// Allocate reserves a fresh identifier by creating an empty object.
	Allocate(ctx context.Context) (string, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Size returns common.ErrorNotFound for a missing blob.
	Size(ctx context.Context, id string) (int64, error)
	// Stage streams src into a temporary artifact, enforcing guard. Nothing
	// is visible under id until the returned Staged is published.
	Stage(ctx context.Context, id string, src io.Reader, guard transfer.Guard) (Staged, error)
	// Read streams a blob into w. Returns common.ErrorNotFound for a missing blob.
	Read(ctx context.Context, id string, w io.Writer) (int64, error)
	// Delete removes a blob and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]Info, error)
	// CleanStaging removes temporary artifacts last modified before cutoff.
	CleanStaging(ctx context.Context, cutoff time.Time) (int, error)
}

// Staged is fully written content waiting to replace a blob.
type Staged interface {
	Size() int64
	// Publish atomically swaps the staged content in under its identifier.
	Publish(ctx context.Context) (Publication, error)
	// Discard drops staged content that will not be published.
	Discard() error
}

// Publication is a published write that can still be undone. Exactly one of
// Commit or Revert should be called.
type Publication interface {
	// Commit drops the copy of the previous content.
	Commit(ctx context.Context) error
	// Revert restores the previous content, or removes the blob if there was none.
	Revert(ctx context.Context) error
}

// newID is a seam for collision tests.
var newID = func() string { return uuid.NewString() }

// ValidateID accepts only canonical lowercase UUID strings, which keeps
// identifiers safe to use as file names and object keys.
func ValidateID(id string) error {
	if len(id) != 36 {
		return fmt.Errorf("%w: %q", common.ErrorInvalidID, id)
	}
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("%w: %q", common.ErrorInvalidID, id)
	}
	return nil
}
