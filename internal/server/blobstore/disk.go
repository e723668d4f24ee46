package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/filex"
	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
)

// DiskStore keeps blobs as files under <root>/blobs/<id[0:2]>/<id>. Writes
// are staged in <root>/staging on the same filesystem so publishing is a
// rename. Content replaced by an unfinished publication waits in
// <root>/backup.
type DiskStore struct {
	blobDir    string
	stagingDir string
	backupDir  string
	chunkSize  int
}

var _ Store = (*DiskStore)(nil)

func NewDiskStore(root string, chunkSize int) (*DiskStore, error) {
	blobDir, err := filex.EnsureDir(filepath.Join(root, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	stagingDir, err := filex.EnsureDir(filepath.Join(root, "staging"))
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	backupDir, err := filex.EnsureDir(filepath.Join(root, "backup"))
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &DiskStore{blobDir: blobDir, stagingDir: stagingDir, backupDir: backupDir, chunkSize: chunkSize}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.blobDir, id[:2], id)
}

func (s *DiskStore) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := newID()
		if err := ValidateID(id); err != nil {
			return "", err
		}
		p := s.path(id)
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return "", fmt.Errorf("blobstore: allocate: %w", err)
		}
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("blobstore: allocate: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(p)
			return "", fmt.Errorf("blobstore: allocate: %w", err)
		}
		if err := filex.SyncDir(filepath.Dir(p)); err != nil {
			os.Remove(p)
			return "", fmt.Errorf("blobstore: allocate: %w", err)
		}
		return id, nil
	}
	return "", common.ErrorIdentifierExhausted
}

func (s *DiskStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: stat %s: %w", id, err)
	}
	return true, nil
}

func (s *DiskStore) Size(ctx context.Context, id string) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("blobstore: stat %s: %w", id, err)
	}
	return info.Size(), nil
}

func (s *DiskStore) Stage(ctx context.Context, id string, src io.Reader, guard transfer.Guard) (Staged, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	tmp, n, err := stageLocal(ctx, s.stagingDir, id, src, guard, s.chunkSize)
	if err != nil {
		return nil, err
	}
	return &diskStaged{store: s, id: id, tmp: tmp, size: n}, nil
}

func (s *DiskStore) Read(ctx context.Context, id string, w io.Writer) (int64, error) {
	if err := ValidateID(id); err != nil {
		return 0, err
	}
	f, err := os.Open(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("blobstore: open %s: %w", id, err)
	}
	defer f.Close()
	chunk := s.chunkSize
	if chunk <= 0 {
		chunk = common.DefaultChunkSize
	}
	n, err := io.CopyBuffer(w, struct{ io.Reader }{f}, make([]byte, chunk))
	if err != nil {
		return n, fmt.Errorf("blobstore: read %s: %w", id, err)
	}
	return n, nil
}

func (s *DiskStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: delete %s: %w", id, err)
	}
	return true, nil
}

func (s *DiskStore) List(ctx context.Context) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(s.blobDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		if ValidateID(d.Name()) != nil {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append(out, Info{ID: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list: %w", err)
	}
	return out, nil
}

// CleanStaging removes staging files and publication backups left behind
// before cutoff. Backups are aged by the time in their name, since a hard
// link carries the mtime of the blob it preserves.
func (s *DiskStore) CleanStaging(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := cleanStagingDir(ctx, s.stagingDir, cutoff)
	if err != nil {
		return n, err
	}
	m, err := cleanBackupDir(ctx, s.backupDir, cutoff)
	return n + m, err
}

type diskStaged struct {
	store *DiskStore
	id    string
	tmp   string
	size  int64
}

func (d *diskStaged) Size() int64 { return d.size }

func (d *diskStaged) Publish(ctx context.Context) (Publication, error) {
	final := d.store.path(d.id)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: publish %s: %w", d.id, err)
	}

	// Keep the previous content reachable through a hard link until the
	// caller commits, so the swap can be undone.
	backup := ""
	if _, err := os.Stat(final); err == nil {
		backup = filepath.Join(d.store.backupDir, backupName(d.id, time.Now()))
		if err := os.Link(final, backup); err != nil {
			return nil, fmt.Errorf("blobstore: back up %s: %w", d.id, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blobstore: publish %s: %w", d.id, err)
	}

	if err := os.Rename(d.tmp, final); err != nil {
		if backup != "" {
			os.Remove(backup)
		}
		return nil, fmt.Errorf("blobstore: publish %s: %w", d.id, err)
	}
	if err := filex.SyncDir(dir); err != nil {
		p := &diskPublication{final: final, backup: backup}
		_ = p.Revert(ctx)
		return nil, fmt.Errorf("blobstore: sync %s: %w", d.id, err)
	}
	return &diskPublication{final: final, backup: backup}, nil
}

func (d *diskStaged) Discard() error {
	err := os.Remove(d.tmp)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type diskPublication struct {
	once   sync.Once
	final  string
	backup string
}

func (p *diskPublication) Commit(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.backup != "" {
			err = os.Remove(p.backup)
		}
	})
	return err
}

func (p *diskPublication) Revert(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.backup == "" {
			err = os.Remove(p.final)
			if errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
			return
		}
		if err = os.Rename(p.backup, p.final); err == nil {
			err = filex.SyncDir(filepath.Dir(p.final))
		}
	})
	return err
}
