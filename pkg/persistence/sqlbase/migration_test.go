package sqlbase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/checkinhub/pkg/persistence/sqlbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, migrations map[int]string) (*sqlbase.MigrationManager, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return sqlbase.NewMigrationManager(logger, db, migrations), mock
}

func TestRunMigrations_AppliesPendingInOrder(t *testing.T) {
	manager, mock := newManager(t, map[int]string{
		3: "CREATE TABLE three (id INT)",
		1: "CREATE TABLE one (id INT)",
		2: "CREATE TABLE two (id INT)",
	})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	for _, version := range []int{2, 3} {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version) VALUES ($1)")).
			WithArgs(version).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, manager.RunMigrations(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 3, manager.LatestVersion())
}

func TestRunMigrations_UpToDate(t *testing.T) {
	manager, mock := newManager(t, map[int]string{1: "CREATE TABLE one (id INT)"})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	require.NoError(t, manager.RunMigrations(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackFailedMigration(t *testing.T) {
	manager, mock := newManager(t, map[int]string{1: "CREATE TABLE broken"})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE broken")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := manager.RunMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
