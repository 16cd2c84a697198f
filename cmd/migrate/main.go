package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	var (
		storeName string
		dir       string
		logLevel  string
	)

	flag.StringVar(&storeName, "store", "all", "Store to migrate: structured, document or all")
	flag.StringVar(&dir, "path", "", "Read migrations from this directory instead of the embedded set")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	_ = godotenv.Load()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	stores := migration.Stores()
	if storeName != "all" {
		s, err := migration.ParseStore(storeName)
		if err != nil {
			log.Fatal("Invalid store", zap.Error(err))
		}
		stores = []migration.Store{s}
	}

	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("store", storeName),
		zap.String("path", dir),
	)

	// create and list work on files only
	switch command {
	case "create":
		if len(stores) != 1 {
			log.Fatal("create needs a single -store")
		}
		if len(args) < 2 {
			log.Fatal("Migration name required. Usage: migrate -store <store> create <name> [description]")
		}
		if dir == "" {
			dir = "internal/infrastructure/migration/sql"
		}
		description := ""
		if len(args) > 2 {
			description = args[2]
		}
		mf, err := migration.CreateMigration(dir, stores[0], args[1], description)
		if err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		log.Info("Migration created successfully",
			zap.String("version", mf.Version),
			zap.String("up_file", mf.UpPath),
			zap.String("down_file", mf.DownPath),
		)
		return

	case "list":
		for _, s := range stores {
			var names []string
			if dir != "" {
				names, err = migration.ListMigrations(dir, s)
			} else {
				names, err = migration.EmbeddedMigrations(s)
			}
			if err != nil {
				log.Fatal("Failed to list migrations", zap.String("store", string(s)), zap.Error(err))
			}
			fmt.Printf("%s (%d)\n", s, len(names))
			for _, n := range names {
				fmt.Println("  -", n)
			}
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	for _, s := range stores {
		if err := run(cfg, s, dir, command, args[1:], log); err != nil {
			log.Fatal("Migration failed", zap.String("store", string(s)), zap.Error(err))
		}
	}
}

func run(cfg *config.Config, store migration.Store, dir, command string, args []string, log *zap.Logger) error {
	dbCfg := cfg.Database
	if store == migration.StoreDocument {
		dbCfg = cfg.DocumentStore
	}

	db, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var opts []migration.Option
	if dir != "" {
		opts = append(opts, migration.WithDirectory(dir))
	}
	m, err := migration.New(db, store, log, opts...)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "step":
		if len(args) < 1 {
			return fmt.Errorf("step count required. Usage: migrate step <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		return m.Steps(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Current migration version",
			zap.String("store", string(store)),
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
		return nil
	case "force":
		if len(args) < 1 {
			return fmt.Errorf("version required. Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		return m.Force(version)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println(`LedgerLink Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    Apply all pending migrations
  down                  Roll back all migrations
  step <n>              Apply n migrations (positive=up, negative=down)
  version               Show current migration version
  force <version>       Force set migration version (use with caution)
  create <name> [desc]  Create a new migration file pair (needs a single -store)
  list                  List available migrations

Flags:
  -store string         structured, document or all (default: all)
  -path string          Migrations directory; the embedded set is used when empty
  -log-level string     Log level: debug, info, warn, error (default: info)

Examples:
  migrate up
  migrate -store document step -1
  migrate -store structured create add_account_index "Index accounts by company"`)
}
