package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// MigrateUp applies every pending migration.
func (s *Store) MigrateUp() error {
	return s.migrate(func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back every applied migration.
func (s *Store) MigrateDown() error {
	return s.migrate(func(m *migrate.Migrate) error { return m.Down() })
}

// MigrationVersion reports the applied schema version and whether the last
// migration failed half way.
func (s *Store) MigrationVersion() (version uint, dirty bool, err error) {
	err = s.migrate(func(m *migrate.Migrate) error {
		version, dirty, err = m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		return err
	})
	return version, dirty, err
}

// migrate runs fn over a dedicated connection, so closing the migrator
// leaves the store's pool alone.
func (s *Store) migrate(fn func(m *migrate.Migrate) error) error {
	const op = "sqlstore.migrate"

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var (
		driver database.Driver
		dir    string
	)
	switch s.driver {
	case DriverPostgres:
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		dir = "migrations/sqlite"
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("%s: %w", op, err)
	}

	src, err := iofs.New(migrations, dir)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
