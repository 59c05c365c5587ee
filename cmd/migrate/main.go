package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"

	"github.com/af-corp/hass-agent/internal/config"
	"github.com/af-corp/hass-agent/migrations"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides config)")
	configDir := flag.String("config", "configs", "path to configuration directory")
	migrationsPath := flag.String("path", "", "migrations directory (default: embedded)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_ = godotenv.Load()

	dsn := *dbURL
	if dsn == "" {
		loader := config.NewLoader(*configDir, logger)
		if err := loader.Load(); err != nil {
			fatal(logger, "failed to load configuration", err)
		}
		db := loader.Config().Database
		if !db.Enabled() {
			logger.Error("no database configured: set database.url, DATABASE_URL or -db-url")
			os.Exit(1)
		}
		dsn = db.DSN()
	}

	m, err := newMigrator(*migrationsPath, dsn)
	if err != nil {
		fatal(logger, "failed to create migrator", err)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
	default:
		logger.Error("invalid direction (use 'up', 'down' or 'version')", "direction", *direction)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(logger, "migration failed", err)
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		fatal(logger, "failed to read schema version", err)
	}
	logger.Info("migration complete", "direction", *direction, "version", v, "dirty", dirty)
}

func newMigrator(path, dsn string) (*migrate.Migrate, error) {
	if path != "" {
		return migrate.New("file://"+path, dsn)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, dsn)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
