package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/dcurp/api/internal/config"
	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/utils"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	)
	flag.Parse()

	utils.InitLogger(constants.AppName + "-migrate")
	cfg := config.LoadMigrationConfig()
	if *dir != "" {
		cfg.MigrationsDir = *dir
	}

	m, closeDB, err := newMigrator(cfg)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to initialize migrations")
	}
	defer closeDB()

	switch *command {
	case "up":
		if err := step(m, *steps, true); err != nil {
			utils.Logger.WithError(err).Fatal("Migration up failed")
		}
		utils.Logger.Info("Migrations applied successfully")
	case "down":
		if err := step(m, *steps, false); err != nil {
			utils.Logger.WithError(err).Fatal("Migration down failed")
		}
		utils.Logger.Info("Migrations rolled back successfully")
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			utils.Logger.Info("No migrations applied yet")
			return
		}
		if err != nil {
			utils.Logger.WithError(err).Fatal("Failed to get version")
		}
		if dirty {
			utils.Logger.Fatalf("Database is in a dirty state (version %d)", v)
		}
		utils.Logger.Infof("Current migration version: %d", v)
	case "force":
		if *version == 0 {
			utils.Logger.Fatal("Version required for force command (use -version flag)")
		}
		if err := m.Force(int(*version)); err != nil {
			utils.Logger.WithError(err).Fatal("Force migration failed")
		}
		utils.Logger.Infof("Forced database to version %d", *version)
	default:
		utils.Logger.Fatalf("Unknown command: %s (supported: up, down, version, force)", *command)
	}
}

func newMigrator(cfg *config.Config) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, func() { db.Close() }, nil
}

// step applies n migrations in the given direction, or all of them when n is 0.
func step(m *migrate.Migrate, n int, up bool) error {
	var err error
	switch {
	case n > 0 && up:
		err = m.Steps(n)
	case n > 0:
		err = m.Steps(-n)
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
