package ledger

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

var (
	qInsertAccount = `(?s)^INSERT\s+INTO\s+accounts\s*\(.*\)\s*VALUES\s*\(.*\)\s*ON\s+CONFLICT\s*\(id\)\s*DO\s+NOTHING\s*$`
	qInsertBlob    = `^INSERT\s+INTO\s+account_blobs\s*\(account_id,\s*blob_id\)\s*VALUES\s*\(\$1,\s*\$2\)$`
	qSelectAccount = `(?s)^SELECT\s+id,\s*version,.*FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1\s*$`
	qSelectBlobs   = `^SELECT\s+blob_id\s+FROM\s+account_blobs\s+WHERE\s+account_id\s*=\s*\$1\s+ORDER\s+BY\s+blob_id$`
	qUpdateAccount = `(?s)^UPDATE\s+accounts\s+SET\s+.*WHERE\s+id\s*=\s*\$1\s*$`
	qDeleteBlobs   = `^DELETE\s+FROM\s+account_blobs\s+WHERE\s+account_id\s*=\s*\$1$`
	qDeleteAccount = `^DELETE\s+FROM\s+accounts\s+WHERE\s+id\s*=\s*\$1$`
	accountColumns = []string{"id", "version", "credential_hash", "key_blob_id", "quota_limit", "quota_used", "last_touched", "created_at"}
)

func TestPostgres_Create_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	a := newAccount(aliceID)
	a.AddBlob("11111111-1111-4111-8111-111111111111")

	mock.ExpectBegin()
	mock.ExpectExec(qInsertAccount).
		WithArgs(aliceID, common.RecordVersion, a.CredentialHash, a.KeyBlobID, int64(1000), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsertBlob).
		WithArgs(aliceID, "11111111-1111-4111-8111-111111111111").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Create_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(qInsertAccount).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newAccount(aliceID))
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Create_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(qInsertAccount).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newAccount(aliceID))
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestPostgres_Load_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(qSelectAccount).WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(aliceID, common.RecordVersion, "h", "k", int64(1000), int64(400), now, now))
	mock.ExpectQuery(qSelectBlobs).WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows([]string{"blob_id"}).AddRow("a").AddRow("b"))

	got, err := repo.Load(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.QuotaUsed)
	assert.Equal(t, []string{"a", "b"}, got.OwnedBlobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Load_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(qSelectAccount).WithArgs(aliceID).WillReturnError(sql.ErrNoRows)

	_, err := repo.Load(context.Background(), aliceID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgres_Load_UnsupportedVersion(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(qSelectAccount).WithArgs(aliceID).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(aliceID, 9, "h", "k", int64(1), int64(0), now, now))

	_, err := repo.Load(context.Background(), aliceID)
	assert.ErrorIs(t, err, common.ErrorUnsupportedVersion)
}

func TestPostgres_Persist_ReplacesBlobs(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	a := newAccount(aliceID)
	a.AddBlob("x")
	a.QuotaUsed = 10

	mock.ExpectBegin()
	mock.ExpectExec(qUpdateAccount).
		WithArgs(aliceID, common.RecordVersion, a.CredentialHash, a.KeyBlobID, int64(1000), int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qDeleteBlobs).WithArgs(aliceID).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(qInsertBlob).WithArgs(aliceID, "x").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Persist(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Persist_FailureRollsBack(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	a := newAccount(aliceID)
	a.AddBlob("x")

	mock.ExpectBegin()
	mock.ExpectExec(qUpdateAccount).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qDeleteBlobs).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(qInsertBlob).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Persist(context.Background(), a)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Persist_Missing(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(qUpdateAccount).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Persist(context.Background(), newAccount(aliceID)), common.ErrorNotFound)
}

func TestPostgres_Delete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(qDeleteAccount).WithArgs(aliceID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qDeleteAccount).WithArgs(aliceID).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), aliceID))
	assert.ErrorIs(t, repo.Delete(context.Background(), aliceID), common.ErrorNotFound)
}

func TestPostgres_List(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+accounts\s+ORDER\s+BY\s+id\s*$`).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(aliceID, common.RecordVersion, "h", "k", int64(1000), int64(5), now, now).
			AddRow(bobID, 3, "h", "k", int64(1000), int64(0), now, now))
	mock.ExpectQuery(`^SELECT\s+account_id,\s*blob_id\s+FROM\s+account_blobs`).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "blob_id"}).
			AddRow(aliceID, "a").
			AddRow(bobID, "b"))

	list, err := repo.List(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnsupportedVersion)
	require.Len(t, list, 1)
	assert.Equal(t, aliceID, list[0].ID)
	assert.Equal(t, []string{"a"}, list[0].OwnedBlobs)
}
