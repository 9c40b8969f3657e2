package infra

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// IMigrateTool applies schema migrations.
type IMigrateTool interface {
	// Migrate from current version to latest version.
	Migrate(source string, connStr string) error

	// Version reports the applied version and whether it is dirty.
	Version(source string, connStr string) (uint, bool, error)
}

type migrateTool struct {
	mu sync.Mutex
}

var once sync.Once         // nolint
var singleton IMigrateTool // nolint

// GetMigrateTool get singleton instance for migrate tool
func GetMigrateTool() IMigrateTool { // nolint
	once.Do(func() {
		singleton = &migrateTool{}
	})
	return singleton
}

// Migrate runs every pending up migration. A dirty version left by a failed
// run is forced back one step and retried.
func (mt *migrateTool) Migrate(source string, connStr string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	zap.S().Infow("migrating", "source", source)

	mg, err := migrate.New(source, connStr)
	if err != nil {
		return fmt.Errorf("create migration: %w", err)
	}
	defer mg.Close()

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}

	if dirty {
		zap.S().Warnw("dirty migration version, forcing back", "version", version)
		if err := mg.Force(int(version) - 1); err != nil {
			return fmt.Errorf("force version %d: %w", version-1, err)
		}
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	zap.S().Info("migration done")
	return nil
}

func (mt *migrateTool) Version(source string, connStr string) (uint, bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mg, err := migrate.New(source, connStr)
	if err != nil {
		return 0, false, fmt.Errorf("create migration: %w", err)
	}
	defer mg.Close()

	v, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
