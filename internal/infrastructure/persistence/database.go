package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds one store's root connection. Accessors never use it
// directly; they borrow pinned connections through the pool manager.
type Database struct {
	DB    *gorm.DB
	Store string
}

// Options configures NewDatabase
type Options struct {
	Store         string
	Logger        *zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
	Tracing       bool
}

// NewDatabase connects to the Postgres database described by cfg
func NewDatabase(cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, opts)
}

// Open connects through any gorm dialector. Postgres errors keep their
// SQLSTATE and constraint name for classify; other dialects are translated
// to gorm's sentinel errors.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig, opts Options) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewSQLLogger(opts.Logger, logger.SQLLogConfig{
			Store:         opts.Store,
			Level:         opts.LogLevel,
			SlowThreshold: opts.SlowThreshold,
		}),
		SkipDefaultTransaction: true,
		TranslateError:         dialector.Name() != "postgres",
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s store: %w", opts.Store, err)
	}
	d := &Database{DB: db, Store: opts.Store}

	sqlDB, err := d.sqlDB()
	if err != nil {
		return nil, err
	}
	limitConnections(sqlDB, cfg)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s store: %w", opts.Store, err)
	}

	if err := telemetry.RegisterDBTracing(db, telemetry.DBTracingConfig{
		Enabled: opts.Tracing,
		Store:   opts.Store,
	}, opts.Logger); err != nil {
		return nil, fmt.Errorf("trace %s store: %w", opts.Store, err)
	}
	return d, nil
}

// limitConnections caps database/sql's own pool. Lifetimes are configured in minutes.
func limitConnections(sqlDB *sql.DB, cfg *config.DatabaseConfig) {
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
}

func (d *Database) sqlDB() (*sql.DB, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("%s store has no sql.DB: %w", d.Store, err)
	}
	return sqlDB, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the store is reachable
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats reports database/sql's pool, beneath the coordinator's pinned pools
func (d *Database) Stats() (sql.DBStats, error) {
	sqlDB, err := d.sqlDB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}
