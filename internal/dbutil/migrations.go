package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// ErrMigrationDowngrade is returned when a database downgrade is detected.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// MigrationTarget is a functional option passed to ApplyMigrations to
// specify the target schema version.
type MigrationTarget func(mig *migrate.Migrate,
	currentDBVersion int, maxMigrationVersion uint) error

// TargetLatest migrates to the latest version available.
var TargetLatest MigrationTarget = func(mig *migrate.Migrate, _ int, _ uint) error {
	return mig.Up()
}

// migrationLogger adapts a *slog.Logger to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

func (m *migrationLogger) Verbose() bool { return true }

// ApplyMigrations executes the migration files embedded in fsys (rooted at
// path) against the sqlite database backing db, up to latestVersion. It
// refuses to proceed if the database is in a dirty state, or if its
// recorded version is newer than latestVersion (a downgrade).
func ApplyMigrations(db *sql.DB, fsys fs.FS, path string,
	latestVersion uint, log *slog.Logger,
) error {

	driver, err := sqlite_migrate.WithInstance(db, &sqlite_migrate.Config{})
	if err != nil {
		return fmt.Errorf("error creating sqlite migration driver: %w", err)
	}

	return applyMigrations(
		fsys, driver, path, "sqlite", TargetLatest, latestVersion, log,
	)
}

func applyMigrations(fsys fs.FS, driver database.Driver, path, dbName string,
	target MigrationTarget, latestVersion uint, log *slog.Logger,
) error {

	migrateFileServer, err := httpfs.New(http.FS(fsys), path)
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", migrateFileServer, dbName, driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	if migrationVersion > int(latestVersion) {
		return fmt.Errorf("%w: db_version=%v, latest_migration_version=%v",
			ErrMigrationDowngrade, migrationVersion, latestVersion)
	}

	currentDBVersion, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(context.Background(), "applying migration(s)",
		"current_db_version", currentDBVersion,
		"latest_migration_version", latestVersion)

	sqlMigrate.Log = &migrationLogger{log}

	err = target(sqlMigrate, currentDBVersion, latestVersion)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	currentDBVersion, _, err = driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(context.Background(), "database version after migration",
		"current_db_version", currentDBVersion)

	return nil
}

// BackupSqliteDatabase creates a VACUUM INTO backup of the given sqlite
// database next to its own file, timestamped.
func BackupSqliteDatabase(srcDB *sql.DB, dbFullFilePath string,
	log *slog.Logger,
) error {

	if srcDB == nil {
		return fmt.Errorf("backup source database is nil")
	}

	timestamp := time.Now().UnixNano()
	backupFullFilePath := fmt.Sprintf("%s.%d.backup", dbFullFilePath, timestamp)

	log.InfoContext(context.Background(), "creating backup of database file",
		"source", dbFullFilePath, "backup", backupFullFilePath)

	stmt, err := srcDB.Prepare("VACUUM INTO ?;")
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(backupFullFilePath)
	return err
}
