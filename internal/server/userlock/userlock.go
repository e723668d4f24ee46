// Package userlock provides cross-session mutual exclusion keyed by account.
// A lock is a durable marker holding a random token; only the holder of that
// token can remove it. Markers left by a crash are cleared at startup.
package userlock

import (
	"context"
	"sync/atomic"

	"github.com/Fides-Storage/Server-sub000/internal/common"
)

const tokenBytes = 16

// Token is proof of holding an account's lock.
type Token struct {
	AccountID string
	value     string
	released  atomic.Bool
}

// release marks the token spent and reports whether this call did it.
func (t *Token) release() bool {
	return t.released.CompareAndSwap(false, true)
}

type Locker interface {
	// Acquire atomically creates the lock or returns common.ErrorLocked.
	Acquire(ctx context.Context, accountID string) (*Token, error)
	// Release removes the lock if it still holds t. Only the first call for a
	// given token has any effect.
	Release(ctx context.Context, t *Token) error
	// ClearAll removes every lock. Call it once before accepting connections.
	ClearAll(ctx context.Context) error
	IsLocked(ctx context.Context, accountID string) (bool, error)
}

func newToken(accountID string) (*Token, error) {
	v, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return nil, err
	}
	return &Token{AccountID: accountID, value: v}, nil
}
