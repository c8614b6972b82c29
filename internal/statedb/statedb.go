// Package statedb persists the registry of managed sessions and their
// launch history in SQLite.
package statedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Launch outcomes recorded in the launches table.
const (
	OutcomeReady       = "ready"
	OutcomeResolveFail = "resolve_failed"
	OutcomeLaunchFail  = "launch_failed"
	OutcomeInitTimeout = "init_timeout"
)

// ErrNotFound is returned when a session row does not exist.
var ErrNotFound = errors.New("statedb: not found")

// StateDB wraps a SQLite database. Safe for concurrent use; several
// processes may share the file through WAL mode and the busy timeout.
type StateDB struct {
	db *sql.DB
}

// SessionRow is one managed tmux session.
type SessionRow struct {
	Name        string
	Workspace   string
	Tool        string
	BinaryPath  string
	Cwd         string
	CreatedAt   time.Time
	Restarts    int
	LastStatus  string
	LastReason  string
	LastChecked time.Time
}

// LaunchRow is one attempt to start a CLI inside a session.
type LaunchRow struct {
	ID        string
	Session   string
	Binary    string
	Outcome   string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", pragma, err)
		}
	}
	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct{ name, sql string }{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				name         TEXT PRIMARY KEY,
				workspace    TEXT NOT NULL,
				tool         TEXT NOT NULL,
				binary_path  TEXT NOT NULL DEFAULT '',
				cwd          TEXT NOT NULL DEFAULT '',
				created_at   INTEGER NOT NULL,
				restarts     INTEGER NOT NULL DEFAULT 0,
				last_status  TEXT NOT NULL DEFAULT '',
				last_reason  TEXT NOT NULL DEFAULT '',
				last_checked INTEGER NOT NULL DEFAULT 0
			)`},
		{"launches", `
			CREATE TABLE IF NOT EXISTS launches (
				id          TEXT PRIMARY KEY,
				session     TEXT NOT NULL,
				binary      TEXT NOT NULL DEFAULT '',
				outcome     TEXT NOT NULL,
				error       TEXT NOT NULL DEFAULT '',
				started_at  INTEGER NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0
			)`},
		{"launches index", `CREATE INDEX IF NOT EXISTS idx_launches_session ON launches(session, started_at)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}
	return tx.Commit()
}

// StoredSchemaVersion reads the schema version written by Migrate.
func (s *StateDB) StoredSchemaVersion(ctx context.Context) (int, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&v); err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// --- Sessions ---

// UpsertSession records a (re)launched session. The restart counter and the
// last status survive the update.
func (s *StateDB) UpsertSession(ctx context.Context, row *SessionRow) error {
	created := row.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (name, workspace, tool, binary_path, cwd, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			workspace   = excluded.workspace,
			tool        = excluded.tool,
			binary_path = excluded.binary_path,
			cwd         = excluded.cwd,
			created_at  = excluded.created_at
	`, row.Name, row.Workspace, row.Tool, row.BinaryPath, row.Cwd, created.Unix())
	if err != nil {
		return fmt.Errorf("statedb: upsert session %s: %w", row.Name, err)
	}
	return nil
}

// IncrementRestarts bumps the recovery counter of a session.
func (s *StateDB) IncrementRestarts(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET restarts = restarts + 1 WHERE name = ?`, name)
	return err
}

// UpdateStatus stores the latest classification. Unknown sessions are ignored.
func (s *StateDB) UpdateStatus(ctx context.Context, name, status, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_status = ?, last_reason = ?, last_checked = ? WHERE name = ?`,
		status, reason, at.Unix(), name)
	return err
}

// DeleteSession removes a session row. Its launch history is kept.
func (s *StateDB) DeleteSession(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	return err
}

const sessionColumns = `name, workspace, tool, binary_path, cwd, created_at, restarts, last_status, last_reason, last_checked`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*SessionRow, error) {
	r := &SessionRow{}
	var created, checked int64
	if err := sc.Scan(&r.Name, &r.Workspace, &r.Tool, &r.BinaryPath, &r.Cwd,
		&created, &r.Restarts, &r.LastStatus, &r.LastReason, &checked); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0)
	if checked > 0 {
		r.LastChecked = time.Unix(checked, 0)
	}
	return r, nil
}

// GetSession loads one session row.
func (s *StateDB) GetSession(ctx context.Context, name string) (*SessionRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE name = ?`, name)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListSessions returns all sessions ordered by workspace then tool.
func (s *StateDB) ListSessions(ctx context.Context) ([]*SessionRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY workspace, tool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Launches ---

// InsertLaunch appends a launch record, assigning an ID when missing.
func (s *StateDB) InsertLaunch(ctx context.Context, l *LaunchRow) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launches (id, session, binary, outcome, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.Session, l.Binary, l.Outcome, l.Error, l.StartedAt.UnixMilli(), l.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("statedb: insert launch: %w", err)
	}
	return nil
}

// RecentLaunches returns up to limit launches for a session, newest first.
func (s *StateDB) RecentLaunches(ctx context.Context, session string, limit int) ([]*LaunchRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, binary, outcome, error, started_at, duration_ms
		FROM launches WHERE session = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LaunchRow
	for rows.Next() {
		l := &LaunchRow{}
		var started, durMs int64
		if err := rows.Scan(&l.ID, &l.Session, &l.Binary, &l.Outcome, &l.Error, &started, &durMs); err != nil {
			return nil, err
		}
		l.StartedAt = time.UnixMilli(started)
		l.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, l)
	}
	return out, rows.Err()
}

// PruneLaunches deletes launch records older than cutoff.
func (s *StateDB) PruneLaunches(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM launches WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
