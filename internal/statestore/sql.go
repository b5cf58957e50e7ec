package statestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"log/slog"

	"github.com/rcelha/grain/internal/dbutil"
)

//go:embed migrations/*.sql
var sqlMigrations embed.FS

const latestMigrationVersion = 1

// SqlStore is a Store backed by a SQL database, opened and migrated by the
// caller via dbutil.
type SqlStore struct {
	db *sql.DB
}

var _ Store = (*SqlStore)(nil)

// NewSqlStore wraps an already-open database handle.
func NewSqlStore(db *sql.DB) *SqlStore {
	return &SqlStore{db: db}
}

// Migrate applies the state schema's migrations to the database.
func (s *SqlStore) Migrate(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	return dbutil.ApplyMigrations(
		s.db, sqlMigrations, "migrations", latestMigrationVersion, log,
	)
}

// Load implements Store.
func (s *SqlStore) Load(ctx context.Context, kind, id, stateName string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT serialized_state FROM object_state
		WHERE object_kind = ? AND object_id = ? AND state_name = ?
	`, kind, id, stateName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, dbutil.MapSQLError(err)
	}
	return data, nil
}

// Save implements Store.
func (s *SqlStore) Save(ctx context.Context, kind, id, stateName string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO object_state (object_kind, object_id, state_name, serialized_state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (object_kind, object_id, state_name)
		DO UPDATE SET serialized_state = excluded.serialized_state
	`, kind, id, stateName, data)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}
