package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func mockPostgres(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)
	return &Database{DB: gdb, Store: StoreStructured}, mock
}

func TestOpen_SQLiteTranslatesErrors(t *testing.T) {
	cfg := &config.DatabaseConfig{MaxOpenConns: 3, MaxIdleConns: 1, ConnMaxLifetime: 5}

	db, err := Open(sqlite.Open("file::memory:"), cfg, Options{
		Store:    StoreDocument,
		Logger:   zaptest.NewLogger(t),
		LogLevel: gormlogger.Warn,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, StoreDocument, db.Store)
	assert.True(t, db.DB.Config.TranslateError)
	assert.True(t, db.DB.Config.SkipDefaultTransaction)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.MaxOpenConnections)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestDatabase_Ping(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		db, mock := mockPostgres(t)
		mock.ExpectPing()

		assert.NoError(t, db.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure is returned", func(t *testing.T) {
		db, mock := mockPostgres(t)
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		assert.ErrorIs(t, db.Ping(context.Background()), sql.ErrConnDone)
	})
}

func TestDatabase_Close(t *testing.T) {
	db, mock := mockPostgres(t)
	mock.ExpectClose()

	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
