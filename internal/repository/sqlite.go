package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteDB struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases from being split across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			headline TEXT NOT NULL,
			description TEXT NOT NULL,
			severity TEXT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			language_code TEXT NOT NULL,
			delivery_status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			sent_at INTEGER,
			expires_at INTEGER NOT NULL,
			created_by TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS areas (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			description TEXT NOT NULL,
			polygon TEXT NOT NULL,
			region_code TEXT,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS approvals (
			alert_id TEXT NOT NULL UNIQUE,
			approver_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT,
			decided_at INTEGER NOT NULL,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL CHECK (attempt_number BETWEEN 1 AND 3),
			status TEXT NOT NULL,
			operation_id TEXT,
			error TEXT,
			attempted_at INTEGER NOT NULL,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS correlation_events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			alert_ids TEXT NOT NULL,
			severity TEXT,
			detected_at INTEGER NOT NULL,
			resolved_at INTEGER,
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
		CREATE INDEX IF NOT EXISTS idx_areas_alert_id ON areas(alert_id);
		CREATE INDEX IF NOT EXISTS idx_attempts_alert_id ON delivery_attempts(alert_id);
		CREATE INDEX IF NOT EXISTS idx_attempts_attempted_at ON delivery_attempts(attempted_at);
		CREATE INDEX IF NOT EXISTS idx_correlation_resolved ON correlation_events(resolved_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on error.
func (s *SQLiteDB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// Times are stored as UTC unix nanoseconds so range comparisons stay numeric.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
