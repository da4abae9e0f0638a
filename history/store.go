// Package history persists the daemon's connection attempt journal.
// This file contains the SQLite-backed store.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ikesession/ikesessiond/common"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an attempt id has no row.
var ErrNotFound = errors.New("attempt not found")

// Attempt outcomes as stored in the journal. An attempt opens as
// "connecting" and is rewritten exactly once when it ends.
const (
	OutcomeConnecting   = "connecting"
	OutcomeConnected    = "connected"
	OutcomeDisconnected = "disconnected"
	OutcomeCancelled    = "cancelled"
	OutcomeFailed       = "failed"
)

// Attempt is one row of the journal: a single connection attempt from
// acceptance to its final outcome. The pre-shared key is never stored.
type Attempt struct {
	ID          string     `json:"id"`
	Generation  uint64     `json:"generation"`
	Server      string     `json:"server"`
	Identifier  string     `json:"identifier"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Outcome     string     `json:"outcome"`
	Error       string     `json:"error,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id           TEXT PRIMARY KEY,
	generation   INTEGER NOT NULL,
	server       TEXT NOT NULL,
	identifier   TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	connected_at INTEGER,
	ended_at     INTEGER,
	outcome      TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attempts_by_start ON attempts (started_at DESC);
`

// Store provides SQLite-backed persistence for connection attempts.
type Store struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the attempt journal at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.WrapError(err, "open history db")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, common.WrapError(err, "ping history db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, common.WrapError(err, "create history schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts a new attempt row in the "connecting" outcome.
func (s *Store) RecordStart(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if a.StartedAt.IsZero() {
		return fmt.Errorf("attempt start time is required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO attempts (id, generation, server, identifier, started_at, outcome, error)
VALUES (?, ?, ?, ?, ?, ?, '')
`, a.ID, a.Generation, a.Server, a.Identifier, toMillis(a.StartedAt), OutcomeConnecting)
	if err != nil {
		return fmt.Errorf("record attempt start: %w", err)
	}
	return nil
}

// MarkConnected stamps the moment the tunnel came up.
func (s *Store) MarkConnected(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE attempts SET connected_at = ?, outcome = ? WHERE id = ?
`, toMillis(at), OutcomeConnected, id)
	if err != nil {
		return fmt.Errorf("mark attempt connected: %w", err)
	}
	return requireAffected(result)
}

// RecordOutcome closes an attempt with its final outcome and, for
// failures, the error text.
func (s *Store) RecordOutcome(ctx context.Context, id, outcome, errText string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE attempts SET ended_at = ?, outcome = ?, error = ? WHERE id = ?
`, toMillis(at), outcome, errText, id)
	if err != nil {
		return fmt.Errorf("record attempt outcome: %w", err)
	}
	return requireAffected(result)
}

// List returns up to limit attempts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = common.DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, generation, server, identifier, started_at, connected_at, ended_at, outcome, error
FROM attempts
ORDER BY started_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0, limit)
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt rows: %w", err)
	}
	return attempts, nil
}

// Prune deletes all but the newest keep attempts. A keep of zero or
// less leaves the journal untouched.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
DELETE FROM attempts WHERE id NOT IN (
	SELECT id FROM attempts ORDER BY started_at DESC, id DESC LIMIT ?
)
`, keep)
	if err != nil {
		return fmt.Errorf("prune attempts: %w", err)
	}
	return nil
}

type scanner func(dest ...any) error

func scanAttempt(scan scanner) (Attempt, error) {
	var a Attempt
	var startedAt int64
	var connectedAt, endedAt sql.NullInt64
	if err := scan(
		&a.ID,
		&a.Generation,
		&a.Server,
		&a.Identifier,
		&startedAt,
		&connectedAt,
		&endedAt,
		&a.Outcome,
		&a.Error,
	); err != nil {
		return Attempt{}, err
	}
	a.StartedAt = fromMillis(startedAt)
	if connectedAt.Valid {
		value := fromMillis(connectedAt.Int64)
		a.ConnectedAt = &value
	}
	if endedAt.Valid {
		value := fromMillis(endedAt.Int64)
		a.EndedAt = &value
	}
	return a, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
