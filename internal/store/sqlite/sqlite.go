package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/simgate/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS launches(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			spawned_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NULL,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_launches_name ON launches(name);`,
		`CREATE INDEX IF NOT EXISTS idx_launches_spawned_at ON launches(spawned_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) BeginLaunch(ctx context.Context, l store.Launch) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO launches(name, pid, spawned_at, ended_at, outcome, attempts, last_error, updated_at)
		VALUES(?, ?, ?, NULL, ?, 0, NULL, ?);`,
		l.Name, l.PID, l.SpawnedAt.UTC(), string(store.OutcomeUnknown), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) MarkReady(ctx context.Context, id int64, attempts int, readyAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE launches
		SET outcome=?, attempts=?, updated_at=?
		WHERE id=?;`,
		string(store.OutcomeReady), attempts, readyAt.UTC(), id)
	return err
}

func (s *DB) FinishLaunch(ctx context.Context, id int64, outcome store.Outcome, attempts int, lastError string, endedAt time.Time) error {
	var errStr sql.NullString
	if lastError != "" {
		errStr = sql.NullString{String: lastError, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE launches
		SET outcome=?, attempts=?, last_error=?, ended_at=?, updated_at=?
		WHERE id=?;`,
		string(outcome), attempts, errStr, endedAt.UTC(), time.Now().UTC(), id)
	return err
}

func (s *DB) Recent(ctx context.Context, limit int) ([]store.Launch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, pid, spawned_at, ended_at, outcome, attempts, last_error
		FROM launches
		ORDER BY spawned_at DESC, id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Launch, 0, limit)
	for rows.Next() {
		var l store.Launch
		var ended sql.NullTime
		var lastErr sql.NullString
		var outcome string
		if err := rows.Scan(&l.ID, &l.Name, &l.PID, &l.SpawnedAt, &ended, &outcome, &l.Attempts, &lastErr); err != nil {
			return nil, err
		}
		l.Outcome = store.Outcome(outcome)
		if ended.Valid {
			l.EndedAt = ended.Time
		}
		if lastErr.Valid {
			l.LastError = lastErr.String
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
