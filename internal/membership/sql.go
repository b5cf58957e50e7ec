package membership

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

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

// Migrate applies the membership schema's migrations to the database.
func (s *SqlStore) Migrate(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	return dbutil.ApplyMigrations(
		s.db, sqlMigrations, "migrations", latestMigrationVersion, log,
	)
}

// Push implements Store.
func (s *SqlStore) Push(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_member (addr, active, last_seen)
		VALUES (?, ?, ?)
	`, member.Addr, member.Active, time.Now())
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// Remove implements Store.
func (s *SqlStore) Remove(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(
		ctx, `DELETE FROM cluster_member WHERE addr = ?`, addr,
	)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// SetActive implements Store.
func (s *SqlStore) SetActive(ctx context.Context, addr string, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cluster_member SET active = ?, last_seen = ?
		WHERE addr = ?
	`, active, time.Now(), addr)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// Members implements Store.
func (s *SqlStore) Members(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(
		ctx, `SELECT addr, active, last_seen FROM cluster_member`,
	)
	if err != nil {
		return nil, dbutil.MapSQLError(err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Addr, &m.Active, &m.LastSeen); err != nil {
			return nil, dbutil.MapSQLError(err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ActiveMembers implements Store.
func (s *SqlStore) ActiveMembers(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT addr, active, last_seen FROM cluster_member WHERE active = TRUE
	`)
	if err != nil {
		return nil, dbutil.MapSQLError(err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Addr, &m.Active, &m.LastSeen); err != nil {
			return nil, dbutil.MapSQLError(err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsActive implements Store.
func (s *SqlStore) IsActive(ctx context.Context, addr string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT active FROM cluster_member WHERE addr = ? LIMIT 1
	`, addr).Scan(&active)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbutil.MapSQLError(err)
	}
	return active, nil
}

// NotifyFailure implements Store.
func (s *SqlStore) NotifyFailure(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_member_failure (addr, occurred_at)
		VALUES (?, ?)
	`, addr, time.Now())
	if err != nil {
		return dbutil.MapSQLError(err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM cluster_member_failure
		WHERE addr = ? AND id NOT IN (
			SELECT id FROM cluster_member_failure
			WHERE addr = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, addr, addr, MaxFailureHistory)
	if err != nil {
		return dbutil.MapSQLError(err)
	}
	return nil
}

// MemberFailures implements Store.
func (s *SqlStore) MemberFailures(ctx context.Context, addr string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at FROM cluster_member_failure
		WHERE addr = ?
		ORDER BY id ASC
	`, addr)
	if err != nil {
		return nil, dbutil.MapSQLError(err)
	}
	defer rows.Close()

	var failures []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, dbutil.MapSQLError(err)
		}
		failures = append(failures, t)
	}
	return failures, rows.Err()
}
