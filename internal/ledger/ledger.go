// Package ledger keeps a history of auto-link runs in an embedded SQLite
// database so operators can see which tracts were wired, and when.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the groups directory.
const FileName = "links.db"

// State is the lifecycle of a single link attempt.
type State string

const (
	StateAttempted State = "attempted"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Attempt is one LinkOutput sent during a run.
type Attempt struct {
	Tract    string
	Sender   string
	Receiver string
	Addr     string
	State    State
	At       time.Time
}

// Run is one auto-link invocation on a group.
type Run struct {
	ID        string
	Group     string
	StartedAt time.Time
	Attempts  []Attempt
}

// Ledger implements link history on SQLite via modernc.org/sqlite (pure Go).
type Ledger struct {
	db *sql.DB
	mu sync.RWMutex // serializes writes (SQLite is single-writer)
}

// Open opens or creates dir/links.db and runs schema migrations.
func Open(dir string) (*Ledger, error) {
	dbPath := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening link ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating link ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			group_name TEXT NOT NULL,
			started_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_group ON runs(group_name, started_at)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			tract TEXT NOT NULL,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			addr TEXT NOT NULL,
			state TEXT NOT NULL,
			attempted_at DATETIME NOT NULL,
			PRIMARY KEY (run_id, tract)
		)`,
	}
	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun records the start of an auto-link run and returns its ID.
func (l *Ledger) BeginRun(ctx context.Context, group string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO runs (id, group_name, started_at) VALUES (?, ?, ?)",
		id, group, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("recording run for group %q: %w", group, err)
	}
	return id, nil
}

// RecordAttempt stores a link attempt under runID. A second attempt for the
// same tract in the same run replaces the first.
func (l *Ledger) RecordAttempt(ctx context.Context, runID string, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	if a.State == "" {
		a.State = StateAttempted
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, tract, sender, receiver, addr, state, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, tract) DO UPDATE SET
		   sender = excluded.sender, receiver = excluded.receiver,
		   addr = excluded.addr, state = excluded.state, attempted_at = excluded.attempted_at`,
		runID, a.Tract, a.Sender, a.Receiver, a.Addr, string(a.State), a.At,
	)
	if err != nil {
		return fmt.Errorf("recording link attempt %s: %w", a.Tract, err)
	}
	return nil
}

// SetState updates the state of a recorded attempt.
func (l *Ledger) SetState(ctx context.Context, runID, tract string, state State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		"UPDATE attempts SET state = ? WHERE run_id = ? AND tract = ?",
		string(state), runID, tract,
	)
	if err != nil {
		return fmt.Errorf("updating link attempt %s: %w", tract, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no attempt for tract %q in run %s", tract, runID)
	}
	return nil
}

// LastRun returns the most recent run for group with its attempts ordered by
// tract name, or nil if the group has never been linked.
func (l *Ledger) LastRun(ctx context.Context, group string) (*Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var r Run
	err := l.db.QueryRowContext(ctx,
		"SELECT id, group_name, started_at FROM runs WHERE group_name = ? ORDER BY started_at DESC, rowid DESC LIMIT 1",
		group,
	).Scan(&r.ID, &r.Group, &r.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run for group %q: %w", group, err)
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT tract, sender, receiver, addr, state, attempted_at FROM attempts WHERE run_id = ? ORDER BY tract",
		r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("reading attempts for run %s: %w", r.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Attempt
		var state string
		if err := rows.Scan(&a.Tract, &a.Sender, &a.Receiver, &a.Addr, &state, &a.At); err != nil {
			return nil, err
		}
		a.State = State(state)
		r.Attempts = append(r.Attempts, a)
	}
	return &r, rows.Err()
}
