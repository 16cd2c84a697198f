// Package migration applies the schemas of the structured and document stores
// with golang-migrate. The SQL ships embedded in the binary; a directory can
// be used instead while authoring migrations.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed sql
var embedded embed.FS

// Store names a schema with its own migration history
type Store string

const (
	StoreStructured Store = "structured"
	StoreDocument   Store = "document"
)

// Stores lists every schema in apply order
func Stores() []Store { return []Store{StoreStructured, StoreDocument} }

// ParseStore validates a store name
func ParseStore(s string) (Store, error) {
	switch Store(s) {
	case StoreStructured, StoreDocument:
		return Store(s), nil
	}
	return "", fmt.Errorf("unknown store %q (want structured or document)", s)
}

// Migrator handles migrations for one store
type Migrator struct {
	store   Store
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// Option configures New
type Option func(*options)

type options struct {
	dir string
}

// WithDirectory reads migrations from dir/<store> instead of the embedded set
func WithDirectory(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// New creates a Migrator for store on db. The history table is per store so
// both schemas can share a database in development.
func New(db *sql.DB, store Store, logger *zap.Logger, opts ...Option) (*Migrator, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations_" + string(store),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	var m *migrate.Migrate
	if o.dir != "" {
		m, err = migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s/%s", o.dir, store), "postgres", driver)
	} else {
		var src source.Driver
		src, err = embeddedSource(store)
		if err == nil {
			m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance for %s: %w", store, err)
	}

	return &Migrator{
		store:   store,
		migrate: m,
		logger:  logger.With(zap.String("store", string(store))),
	}, nil
}

func embeddedSource(store Store) (source.Driver, error) {
	sub, err := fs.Sub(embedded, "sql/"+string(store))
	if err != nil {
		return nil, err
	}
	return iofs.New(sub, ".")
}

// EmbeddedMigrations lists the migrations compiled into the binary for store
func EmbeddedMigrations(store Store) ([]string, error) {
	sub, err := fs.Sub(embedded, "sql/"+string(store))
	if err != nil {
		return nil, err
	}
	return listMigrations(sub)
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	m.logger.Info("Running migrations up")

	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s migration up failed: %w", m.store, err)
	}
	return m.logVersion("Migrations completed")
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	m.logger.Info("Running migrations down")

	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s migration down failed: %w", m.store, err)
	}
	m.logger.Info("All migrations rolled back")
	return nil
}

// Steps applies n migrations (positive = up, negative = down)
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Running migration steps", zap.Int("steps", n))

	err := m.migrate.Steps(n)
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s migration steps failed: %w", m.store, err)
	}
	return m.logVersion("Migration steps completed")
}

// Version returns the current migration version, 0 when none was applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get %s migration version: %w", m.store, err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations.
// It is the way out of a dirty state after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force %s version %d: %w", m.store, version, err)
	}
	return nil
}

func (m *Migrator) logVersion(msg string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
