// Package migrations applies the versioned SQL schema for the persisted
// display-record cache. The daemon auto-migrates through gorm on startup;
// this runner exists for deployments that manage the schema explicitly.
package migrations

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/outpost-vpn/outpost/internal/logger"
)

// Connection retry bounds for a database that is still starting up.
const (
	connectAttempts = 5
	connectDelay    = 3 * time.Second
)

// Runner applies the SQL migrations for the display_records and settings
// tables.
type Runner struct {
	m *migrate.Migrate
}

// NewRunner connects to databaseURL and reads migrations from sourcePath
// (a file:// URL), retrying the connection while the database comes up.
func NewRunner(sourcePath, databaseURL string) (*Runner, error) {
	var m *migrate.Migrate
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		m, err = migrate.New(sourcePath, databaseURL)
		if err == nil {
			return &Runner{m: m}, nil
		}
		logger.Warnf("migration connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		time.Sleep(connectDelay)
	}
	return nil, fmt.Errorf("failed to connect for migrations: %w", err)
}

// Up applies all pending migrations. An already-current schema is fine.
func (r *Runner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back all migrations.
func (r *Runner) Down() error {
	if err := r.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty.
func (r *Runner) Version() (uint, bool, error) {
	return r.m.Version()
}
