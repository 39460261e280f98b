package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobscout/internal/model"
	"github.com/amishk599/jobscout/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return store.New(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestTx_InsertJobUsesPostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs .* VALUES \(\$1, \$2, .*\$13\)\s+ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	inserted, err := tx.InsertJob(ctx, &model.Job{CanonicalID: "GREENHOUSE:1", Hash: "h", ScrapedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, inserted, "zero rows affected means the posting already exists")

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_CommitFailureIsReported(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE frontier_orgs SET last_crawled_at = \$1 WHERE id = \$2`).
		WithArgs(sqlmock.AnyArg(), "org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkCrawled(ctx, "org-1", time.Now()))

	err = tx.Commit()
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LookupWhitelistMissingIsNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT domain_root, company_name, ats_type, approved_by, approved_at\s+FROM whitelist WHERE domain_root = \$1`).
		WithArgs("acme.com").
		WillReturnRows(sqlmock.NewRows([]string{"domain_root", "company_name", "ats_type", "approved_by", "approved_at"}))

	wl, err := s.LookupWhitelist(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Nil(t, wl)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_SelectFrontierErrorIsWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM frontier_orgs`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.SelectFrontier(ctx, "greenhouse", 5, time.Now())
	require.Error(t, err)
	assert.ErrorContains(t, err, "selecting frontier for greenhouse")

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
