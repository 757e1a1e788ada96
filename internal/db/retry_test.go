package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var fastRetry = RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

func TestWithRetry_RecoversFromBusy(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	mock.ExpectExec("UPDATE matches").WillReturnError(busy)
	mock.ExpectExec("UPDATE matches").WillReturnError(busy)
	mock.ExpectExec("UPDATE matches").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	err = WithRetry(ctx, fastRetry, func() error {
		_, err := sqlDB.ExecContext(ctx, "UPDATE matches SET opponents_team = ? WHERE id = ?", "Rossi", 1)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetry_ExhaustedIsTransient(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	busy := errors.New("database is locked")
	for i := 0; i < fastRetry.Attempts; i++ {
		mock.ExpectExec("DELETE FROM matches").WillReturnError(busy)
	}

	ctx := context.Background()
	err = WithRetry(ctx, fastRetry, func() error {
		_, err := sqlDB.ExecContext(ctx, "DELETE FROM matches WHERE id = ?", 1)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetry_NonBusyErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry, func() error {
		calls++
		return errors.New("UNIQUE constraint failed: matches.date")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, ErrTransient))
	assert.True(t, IsUniqueViolation(err))
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryPolicy{Attempts: 5, BaseDelay: time.Hour}, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Attempts: 5, BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.delay(1))
	assert.Equal(t, 100*time.Millisecond, p.delay(2))
	assert.Equal(t, 400*time.Millisecond, p.delay(4))
}

func TestOpenMigrate(t *testing.T) {
	d, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	defer d.Close()
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, Migrate(d, zap.New(core)))
	assert.NotZero(t, logs.FilterMessageSnippet("00001_init.sql").Len(), "goose progress is logged through zap")

	// already applied; a nil logger only silences goose
	require.NoError(t, Migrate(d, nil))

	var n int
	require.NoError(t, d.QueryRow(`SELECT COUNT(1) FROM matches`).Scan(&n))
	assert.Zero(t, n)

	var fk int
	require.NoError(t, d.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	g, err := OpenGorm(d)
	require.NoError(t, err)
	var cnt int64
	require.NoError(t, g.Table("attendance").Count(&cnt).Error)
	assert.Zero(t, cnt)
}
