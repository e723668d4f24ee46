package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
	"github.com/google/uuid"
)

// stageLocal copies src into a new temporary file in dir under guard and
// returns its path. On any failure the temporary file is removed.
func stageLocal(ctx context.Context, dir, id string, src io.Reader, guard transfer.Guard, chunkSize int) (string, int64, error) {
	tmp, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: create staging file for %s: %w", id, err)
	}
	n, err := transfer.Copy(ctx, tmp, src, guard, chunkSize)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", n, fmt.Errorf("blobstore: stage %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", n, fmt.Errorf("blobstore: sync staged %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", n, fmt.Errorf("blobstore: close staged %s: %w", id, err)
	}
	return tmp.Name(), n, nil
}

// cleanStagingDir removes entries of dir last modified before cutoff.
func cleanStagingDir(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("blobstore: read staging: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// backupName names a publication backup <id>.<unix nanos>.<random>.
func backupName(id string, now time.Time) string {
	return id + "." + strconv.FormatInt(now.UnixNano(), 10) + "." + uuid.NewString()
}

// backupTime returns the creation time encoded by backupName.
func backupTime(name string) (time.Time, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 || ValidateID(parts[0]) != nil {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// cleanBackupDir removes backups created before cutoff. Entries whose name
// does not parse are left alone.
func cleanBackupDir(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("blobstore: read backups: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		created, ok := backupTime(e.Name())
		if !ok || !created.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
