package placement

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rcelha/grain/internal/dbutil"
	"github.com/rcelha/grain/internal/objectid"
)

//go:embed migrations/*.sql
var sqlMigrations embed.FS

// latestMigrationVersion is the schema version SqlStore migrates to.
const latestMigrationVersion = 1

// SqlStore is a Store backed by a SQL database, opened and migrated by the
// caller via dbutil. Any database/sql driver that supports "INSERT ...
// ON CONFLICT" upserts works; graind wires it to sqlite via
// dbutil.OpenSQLite.
type SqlStore struct {
	db *sql.DB
}

var (
	_ Store            = (*SqlStore)(nil)
	_ ConditionalStore = (*SqlStore)(nil)
)

// NewSqlStore wraps an already-open database handle. Call Migrate before
// using the returned store against a fresh database.
func NewSqlStore(db *sql.DB) *SqlStore {
	return &SqlStore{db: db}
}

// Migrate applies the placement schema's migrations to the database.
func (s *SqlStore) Migrate(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	return dbutil.ApplyMigrations(
		s.db, sqlMigrations, "migrations", latestMigrationVersion, log,
	)
}

// Update implements Store.
func (s *SqlStore) Update(ctx context.Context, id objectid.ID, addr fn.Option[objectid.Address]) error {
	if addr.IsNone() {
		return s.Remove(ctx, id)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO object_placement (kind, object_id, server_address)
		VALUES (?, ?, ?)
		ON CONFLICT (kind, object_id) DO UPDATE SET server_address = excluded.server_address
	`, id.Kind, id.ID, string(addr.UnwrapOr("")))
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// Lookup implements Store.
func (s *SqlStore) Lookup(ctx context.Context, id objectid.ID) (fn.Option[objectid.Address], error) {
	var addr string
	err := s.db.QueryRowContext(ctx, `
		SELECT server_address FROM object_placement
		WHERE kind = ? AND object_id = ?
	`, id.Kind, id.ID).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[objectid.Address](), nil
	}
	if err != nil {
		return fn.None[objectid.Address](), dbutil.MapSQLError(err)
	}

	return fn.Some(objectid.Address(addr)), nil
}

// CleanServer implements Store.
func (s *SqlStore) CleanServer(ctx context.Context, addr objectid.Address) error {
	_, err := s.db.ExecContext(
		ctx, `DELETE FROM object_placement WHERE server_address = ?`,
		string(addr),
	)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// Remove implements Store.
func (s *SqlStore) Remove(ctx context.Context, id objectid.ID) error {
	_, err := s.db.ExecContext(
		ctx, `DELETE FROM object_placement WHERE kind = ? AND object_id = ?`,
		id.Kind, id.ID,
	)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// UpdateIfAbsent implements ConditionalStore, expressed as a SQLite
// upsert-with-no-op so the claim and the absence check happen in one
// statement instead of a check-then-act race.
func (s *SqlStore) UpdateIfAbsent(ctx context.Context, id objectid.ID, addr objectid.Address) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO object_placement (kind, object_id, server_address)
		VALUES (?, ?, ?)
		ON CONFLICT (kind, object_id) DO NOTHING
	`, id.Kind, id.ID, string(addr))
	if err != nil {
		return false, dbutil.MapSQLError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("placement: rows affected: %w", err)
	}

	return rows > 0, nil
}
