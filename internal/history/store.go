// Package history records finished transfers in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rescale/shellxfer/internal/events"
	"github.com/rescale/shellxfer/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	task_kind TEXT,
	display_name TEXT,
	remote_path TEXT,
	reason TEXT,
	message TEXT,
	attempts INTEGER,
	bytes INTEGER,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_transfers_task ON transfers(task_id);
`

// Record is one finished task.
type Record struct {
	ID          int64              `json:"id"`
	TaskID      string             `json:"task_id"`
	Outcome     events.OutcomeKind `json:"outcome"`
	TaskKind    string             `json:"task_kind"`
	DisplayName string             `json:"display_name"`
	RemotePath  string             `json:"remote_path"`
	Reason      string             `json:"reason,omitempty"`
	Message     string             `json:"message,omitempty"`
	Attempts    int                `json:"attempts"`
	Bytes       int64              `json:"bytes"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store is closed")

// Store is the transfer history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the CLI and the server may share the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Add inserts r and returns its row ID.
func (s *Store) Add(ctx context.Context, r Record) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (task_id, outcome, task_kind, display_name, remote_path, reason, message, attempts, bytes, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, string(r.Outcome), r.TaskKind, r.DisplayName, r.RemotePath,
		r.Reason, r.Message, r.Attempts, r.Bytes, r.FinishedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record transfer: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, outcome, task_kind, display_name, remote_path, reason, message, attempts, bytes, finished_at
		FROM transfers ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			outcome  string
			finished int64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &outcome, &r.TaskKind, &r.DisplayName, &r.RemotePath,
			&r.Reason, &r.Message, &r.Attempts, &r.Bytes, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Outcome = events.OutcomeKind(outcome)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transfers").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Prune keeps the newest keep records and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transfers WHERE id NOT IN (
			SELECT id FROM transfers ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	count, _ := res.RowsAffected()
	return count, nil
}

// FromOutcome converts a task-ending outcome into a record. Retrying and
// no_active outcomes do not end a task and return false.
func FromOutcome(ev *events.OutcomeEvent) (Record, bool) {
	if ev == nil || ev.TaskID == "" || !ev.Kind.IsTerminal() || ev.Kind == events.OutcomeNoActive {
		return Record{}, false
	}
	return Record{
		TaskID:      ev.TaskID,
		Outcome:     ev.Kind,
		TaskKind:    ev.TaskKind,
		DisplayName: ev.DisplayName,
		RemotePath:  ev.Target,
		Reason:      ev.Reason,
		Message:     ev.Message,
		Attempts:    ev.Attempts,
		Bytes:       ev.BytesDone,
		FinishedAt:  ev.Timestamp(),
	}, true
}

// Follow records every task-ending outcome received on sub until ctx is done
// or sub is closed. Events already buffered on a closed sub are still recorded.
func (s *Store) Follow(ctx context.Context, sub <-chan events.Event, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			oe, isOutcome := ev.(*events.OutcomeEvent)
			if !isOutcome {
				continue
			}
			rec, ok := FromOutcome(oe)
			if !ok {
				continue
			}
			if _, err := s.Add(context.Background(), rec); err != nil {
				logger.Warn().Err(err).Str("task_id", rec.TaskID).Msg("Failed to record transfer history")
			}
		}
	}
}
