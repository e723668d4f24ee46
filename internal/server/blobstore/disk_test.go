package blobstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/server/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiskStore(t *testing.T) (*DiskStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewDiskStore(root, 4)
	require.NoError(t, err)
	return s, root
}

func unlimited() transfer.Guard { return transfer.Additive(1<<30, 0) }

func stagePublish(t *testing.T, s Store, id, content string) Publication {
	t.Helper()
	ctx := context.Background()
	st, err := s.Stage(ctx, id, strings.NewReader(content), unlimited())
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), st.Size())
	pub, err := st.Publish(ctx)
	require.NoError(t, err)
	return pub
}

func readAll(t *testing.T, s Store, id string) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := s.Read(context.Background(), id, &buf)
	require.NoError(t, err)
	return buf.String()
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("0b5c7f0e-3c9a-4e1b-9d5b-2f7e0c4a1b2d"))
	for _, bad := range []string{
		"",
		"../../etc/passwd",
		"0B5C7F0E-3C9A-4E1B-9D5B-2F7E0C4A1B2D",
		"{0b5c7f0e-3c9a-4e1b-9d5b-2f7e0c4a1b2d}",
		"0b5c7f0e3c9a4e1b9d5b2f7e0c4a1b2d",
		"0b5c7f0e-3c9a-4e1b-9d5b-2f7e0c4a1b/d",
	} {
		assert.ErrorIs(t, ValidateID(bad), common.ErrorInvalidID, bad)
	}
}

func TestDiskStore_AllocateCreatesEmptyBlob(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()

	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, ValidateID(id))

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := s.Size(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestDiskStore_AllocateRetriesOnCollision(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()

	ids := []string{
		"11111111-1111-4111-8111-111111111111",
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
	}
	orig := newID
	t.Cleanup(func() { newID = orig })
	i := 0
	newID = func() string {
		id := ids[i]
		i++
		return id
	}

	first, err := s.Allocate(ctx)
	require.NoError(t, err)
	second, err := s.Allocate(ctx)
	require.NoError(t, err)

	assert.Equal(t, ids[0], first)
	assert.Equal(t, ids[2], second)
	assert.Equal(t, 3, i)
}

func TestDiskStore_AllocateGivesUp(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()

	orig := newID
	t.Cleanup(func() { newID = orig })
	newID = func() string { return "33333333-3333-4333-8333-333333333333" }

	_, err := s.Allocate(ctx)
	require.NoError(t, err)
	_, err = s.Allocate(ctx)
	assert.ErrorIs(t, err, common.ErrorIdentifierExhausted)
}

func TestDiskStore_StagePublishCommit(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	id, err := s.Allocate(ctx)
	require.NoError(t, err)

	pub := stagePublish(t, s, id, "first version")
	require.NoError(t, pub.Commit(ctx))
	assert.Equal(t, "first version", readAll(t, s, id))

	pub = stagePublish(t, s, id, "second")
	require.NoError(t, pub.Commit(ctx))
	assert.Equal(t, "second", readAll(t, s, id))

	entries, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStore_RevertRestoresPreviousContent(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, stagePublish(t, s, id, "keep me").Commit(ctx))

	pub := stagePublish(t, s, id, "replacement")
	assert.Equal(t, "replacement", readAll(t, s, id))
	require.NoError(t, pub.Revert(ctx))
	assert.Equal(t, "keep me", readAll(t, s, id))

	// A second call is a no-op.
	require.NoError(t, pub.Commit(ctx))
	assert.Equal(t, "keep me", readAll(t, s, id))

	for _, dir := range []string{"staging", "backup"} {
		entries, err := os.ReadDir(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.Empty(t, entries, dir)
	}
}

func TestDiskStore_CleanStagingKeepsPendingBackup(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, stagePublish(t, s, id, "version one").Commit(ctx))

	// The backup is a hard link, so it shares this old mtime.
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(s.path(id), past, past))

	pub := stagePublish(t, s, id, "version two, longer")
	backups, err := os.ReadDir(filepath.Join(root, "backup"))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	n, err := s.CleanStaging(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, pub.Revert(ctx))
	assert.Equal(t, "version one", readAll(t, s, id))

	backups, err = os.ReadDir(filepath.Join(root, "backup"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestDiskStore_CleanStagingReclaimsOldBackups(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	dir := filepath.Join(root, "backup")
	id := "55555555-5555-4555-8555-555555555555"

	old := filepath.Join(dir, backupName(id, time.Now().Add(-48*time.Hour)))
	fresh := filepath.Join(dir, backupName(id, time.Now()))
	foreign := filepath.Join(dir, "not-a-backup")
	for _, p := range []string{old, fresh, foreign} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	n, err := s.CleanStaging(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, foreign)
}

func TestBackupTime(t *testing.T) {
	id := "55555555-5555-4555-8555-555555555555"
	at := time.Unix(1700000000, 123)

	got, ok := backupTime(backupName(id, at))
	require.True(t, ok)
	assert.True(t, at.Equal(got))

	for _, bad := range []string{"", id, id + ".x.y", "bad.1.y", id + ".1"} {
		_, ok := backupTime(bad)
		assert.False(t, ok, bad)
	}
}

func TestDiskStore_RevertWithoutPreviousRemovesBlob(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()
	id := "44444444-4444-4444-8444-444444444444"

	pub := stagePublish(t, s, id, "new")
	require.NoError(t, pub.Revert(ctx))

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStore_StageOverQuotaLeavesNothing(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	id, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, stagePublish(t, s, id, "old").Commit(ctx))

	_, err = s.Stage(ctx, id, strings.NewReader("far too much content"), transfer.Additive(10, 0))
	assert.ErrorIs(t, err, common.ErrorQuotaExceeded)
	assert.Equal(t, "old", readAll(t, s, id))

	entries, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStore_Discard(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	id, err := s.Allocate(ctx)
	require.NoError(t, err)

	st, err := s.Stage(ctx, id, strings.NewReader("abc"), unlimited())
	require.NoError(t, err)
	require.NoError(t, st.Discard())
	require.NoError(t, st.Discard())

	size, err := s.Size(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, size)
	entries, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStore_MissingBlob(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()
	id := "55555555-5555-4555-8555-555555555555"

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Size(ctx, id)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = s.Read(ctx, id, &bytes.Buffer{})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	existed, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDiskStore_RejectsInvalidID(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()

	_, err := s.Exists(ctx, "../escape")
	assert.ErrorIs(t, err, common.ErrorInvalidID)
	_, err = s.Read(ctx, "../escape", &bytes.Buffer{})
	assert.ErrorIs(t, err, common.ErrorInvalidID)
	_, err = s.Delete(ctx, "../escape")
	assert.ErrorIs(t, err, common.ErrorInvalidID)
	_, err = s.Stage(ctx, "../escape", strings.NewReader("x"), unlimited())
	assert.ErrorIs(t, err, common.ErrorInvalidID)
}

func TestDiskStore_DeleteAndList(t *testing.T) {
	s, _ := newTestDiskStore(t)
	ctx := context.Background()
	a, err := s.Allocate(ctx)
	require.NoError(t, err)
	b, err := s.Allocate(ctx)
	require.NoError(t, err)
	require.NoError(t, stagePublish(t, s, b, "12345").Commit(ctx))

	infos, err := s.List(ctx)
	require.NoError(t, err)
	sizes := map[string]int64{}
	for _, in := range infos {
		sizes[in.ID] = in.Size
	}
	assert.Equal(t, map[string]int64{a: 0, b: 5}, sizes)

	existed, err := s.Delete(ctx, a)
	require.NoError(t, err)
	assert.True(t, existed)

	infos, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, b, infos[0].ID)
}

func TestDiskStore_CleanStaging(t *testing.T) {
	s, root := newTestDiskStore(t)
	ctx := context.Background()
	staging := filepath.Join(root, "staging")

	old := filepath.Join(staging, "blob-old")
	fresh := filepath.Join(staging, "blob-fresh")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o600))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := s.CleanStaging(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}
