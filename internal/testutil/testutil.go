// Package testutil provides database and pool helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockDB wraps a GORM database with sqlmock for testing.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB creates a mock Postgres database. It is closed on test cleanup.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err, "Failed to open GORM connection")
	t.Cleanup(func() { mockDB.Close() })

	return &MockDB{
		DB:    gormDB,
		Mock:  mock,
		SqlDB: mockDB,
	}
}

// ExpectationsWereMet verifies that all expectations were met.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	err := m.Mock.ExpectationsWereMet()
	require.NoError(t, err, "Unmet database expectations")
}

// structuredSchema mirrors the Postgres migration for the structured store,
// including the composite same-company foreign keys.
var structuredSchema = []string{
	`CREATE TABLE companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_currency TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE projects (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		archived_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (id, company_id),
		UNIQUE (company_id, code)
	)`,
	`CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (id, company_id),
		UNIQUE (company_id, code)
	)`,
	`CREATE TABLE ledger_entries (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		project_id TEXT,
		account_id TEXT,
		type TEXT NOT NULL,
		amount DECIMAL(20,4) NOT NULL,
		currency TEXT NOT NULL,
		entry_date DATE NOT NULL,
		source_ref TEXT,
		description TEXT,
		reverses_entry_id TEXT UNIQUE REFERENCES ledger_entries(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (id, company_id),
		FOREIGN KEY (project_id, company_id) REFERENCES projects(id, company_id),
		FOREIGN KEY (account_id, company_id) REFERENCES accounts(id, company_id)
	)`,
	`CREATE TABLE document_refs (
		document_id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		project_id TEXT,
		checksum TEXT NOT NULL,
		ledger_entry_id TEXT UNIQUE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (project_id, company_id) REFERENCES projects(id, company_id),
		FOREIGN KEY (ledger_entry_id, company_id) REFERENCES ledger_entries(id, company_id)
	)`,
}

// OpenSQLite opens a private in-memory SQLite database with foreign keys on.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

// NewStructuredDB returns an in-memory structured store schema
func NewStructuredDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := OpenSQLite(t)
	for _, stmt := range structuredSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// NewDocumentDB returns an in-memory document store schema
func NewDocumentDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := OpenSQLite(t)
	require.NoError(t, db.AutoMigrate(models.DocumentStoreModels()...))
	return db
}

// NewPool wraps db in a session pool of the given size
func NewPool(t *testing.T, name string, db *gorm.DB, maxSize int) *pool.Pool[*gorm.DB] {
	t.Helper()
	p, err := pool.New[*gorm.DB](context.Background(), pool.NewGormSessionFactory(db), pool.Options{
		Name:           name,
		MaxSize:        maxSize,
		AcquireTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}
