// Applies the SQL migrations under migrations/ to the configured database.
//
//	go run ./cmd/migrate          apply all pending migrations
//	go run ./cmd/migrate -down    roll everything back
package main

import (
	"flag"

	"github.com/joho/godotenv"

	"github.com/outpost-vpn/outpost/config"
	"github.com/outpost-vpn/outpost/internal/db/migrations"
	"github.com/outpost-vpn/outpost/internal/logger"
)

func main() {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()
	logger.Initialize()

	var (
		dbURL = flag.String("db", "", "Database URL (defaults to the DB_* environment)")
		path  = flag.String("path", "file://migrations", "Path to migration files")
		down  = flag.Bool("down", false, "Roll back all migrations")
	)
	flag.Parse()

	url := *dbURL
	if url == "" {
		url = config.DatabaseURL()
	}

	runner, err := migrations.NewRunner(*path, url)
	if err != nil {
		logger.Fatalf("failed to prepare migrations: %v", err)
	}

	if *down {
		if err := runner.Down(); err != nil {
			logger.Fatalf("rollback failed: %v", err)
		}
	} else {
		if err := runner.Up(); err != nil {
			logger.Fatalf("migration failed: %v", err)
		}
	}

	version, dirty, err := runner.Version()
	if err != nil {
		logger.Warnf("could not read schema version: %v", err)
		return
	}
	logger.Infof("schema version %d (dirty: %v)", version, dirty)
}
