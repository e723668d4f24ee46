package userlock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/filex"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
)

const lockExt = ".lock"

// DiskLocker keeps exclusive-create marker files in <root>/locks.
type DiskLocker struct {
	dir string
}

var _ Locker = (*DiskLocker)(nil)

func NewDiskLocker(root string) (*DiskLocker, error) {
	dir, err := filex.EnsureDir(filepath.Join(root, "locks"))
	if err != nil {
		return nil, fmt.Errorf("userlock: %w", err)
	}
	return &DiskLocker{dir: dir}, nil
}

func (l *DiskLocker) path(accountID string) string {
	return filepath.Join(l.dir, accountID+lockExt)
}

func (l *DiskLocker) Acquire(ctx context.Context, accountID string) (*Token, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	t, err := newToken(accountID)
	if err != nil {
		return nil, fmt.Errorf("userlock: token: %w", err)
	}
	p := l.path(accountID)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil, common.ErrorLocked
	}
	if err != nil {
		return nil, fmt.Errorf("userlock: acquire: %w", err)
	}
	if _, err := f.WriteString(t.value); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("userlock: acquire: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("userlock: acquire: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return nil, fmt.Errorf("userlock: acquire: %w", err)
	}
	return t, nil
}

func (l *DiskLocker) Release(ctx context.Context, t *Token) error {
	if t == nil || !t.release() {
		return nil
	}
	p := l.path(t.AccountID)
	held, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("userlock: release: %w", err)
	}
	if string(held) != t.value {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("userlock: release: %w", err)
	}
	return nil
}

func (l *DiskLocker) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("userlock: clear: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), lockExt) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("userlock: clear: %w", err)
	}
	return filex.SyncDir(l.dir)
}

func (l *DiskLocker) IsLocked(ctx context.Context, accountID string) (bool, error) {
	if err := models.ValidateAccountID(accountID); err != nil {
		return false, err
	}
	_, err := os.Stat(l.path(accountID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("userlock: stat: %w", err)
	}
	return true, nil
}
