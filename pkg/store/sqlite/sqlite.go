// Package sqlite implements the store interfaces on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/store"
)

// Store implements WatcherStore, CaptureStore, ConversationStore, and
// NoteStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.WatcherStore = (*Store)(nil)
var _ store.CaptureStore = (*Store)(nil)
var _ store.ConversationStore = (*Store)(nil)
var _ store.NoteStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs
// migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchers (
		name TEXT PRIMARY KEY,
		topics TEXT NOT NULL DEFAULT '[]',
		instruction TEXT NOT NULL DEFAULT '',
		interval_sec INTEGER NOT NULL DEFAULT 30,
		max_actions_per_hour INTEGER NOT NULL DEFAULT 10,
		paused INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS watcher_evals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		watcher_name TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		data_summary TEXT NOT NULL DEFAULT '',
		assessment TEXT NOT NULL DEFAULT '',
		actions TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_watcher_evals_name ON watcher_evals(watcher_name, id);

	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		output_path TEXT NOT NULL,
		format TEXT NOT NULL DEFAULT 'json',
		max_files INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '',
		tool_call_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, id);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL DEFAULT 'general',
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- WatcherStore ---

func (s *Store) SaveWatcher(ctx context.Context, w *domain.Watcher) error {
	topics, err := json.Marshal(w.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watchers (name, topics, instruction, interval_sec, max_actions_per_hour, paused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			topics = excluded.topics,
			instruction = excluded.instruction,
			interval_sec = excluded.interval_sec,
			max_actions_per_hour = excluded.max_actions_per_hour,
			paused = excluded.paused`,
		w.Name, string(topics), w.Instruction, w.IntervalSec, w.MaxActionsPerHour, w.Paused, w.CreatedAt)
	return err
}

func (s *Store) DeleteWatcher(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM watcher_evals WHERE watcher_name = ?`, name)
	return err
}

func (s *Store) ListWatchers(ctx context.Context) ([]domain.Watcher, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, topics, instruction, interval_sec, max_actions_per_hour, paused, created_at
		FROM watchers ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watchers []domain.Watcher
	for rows.Next() {
		var w domain.Watcher
		var topics string
		if err := rows.Scan(&w.Name, &topics, &w.Instruction, &w.IntervalSec, &w.MaxActionsPerHour, &w.Paused, &w.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(topics), &w.Topics); err != nil {
			return nil, fmt.Errorf("decode topics for %s: %w", w.Name, err)
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

func (s *Store) AppendEval(ctx context.Context, ev *domain.WatcherEval) error {
	actions, err := json.Marshal(ev.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watcher_evals (watcher_name, timestamp, data_summary, assessment, actions)
		VALUES (?, ?, ?, ?, ?)`,
		ev.WatcherName, ev.Timestamp, ev.DataSummary, ev.Assessment, string(actions))
	return err
}

func (s *Store) RecentEvals(ctx context.Context, watcherName string, n int) ([]domain.WatcherEval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT watcher_name, timestamp, data_summary, assessment, actions FROM (
			SELECT id, watcher_name, timestamp, data_summary, assessment, actions
			FROM watcher_evals WHERE watcher_name = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, watcherName, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []domain.WatcherEval
	for rows.Next() {
		var ev domain.WatcherEval
		var actions string
		if err := rows.Scan(&ev.WatcherName, &ev.Timestamp, &ev.DataSummary, &ev.Assessment, &actions); err != nil {
			return nil, err
		}
		if actions != "" && actions != "null" {
			if err := json.Unmarshal([]byte(actions), &ev.Actions); err != nil {
				return nil, fmt.Errorf("decode actions: %w", err)
			}
		}
		evals = append(evals, ev)
	}
	return evals, rows.Err()
}

// --- CaptureStore ---

func (s *Store) SaveCapture(ctx context.Context, c *domain.Capture) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (id, topic, output_path, format, max_files, started_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active = excluded.active`,
		c.ID, c.Topic, c.OutputPath, c.Format, c.MaxFiles, c.StartedAt, c.Active)
	return err
}

func (s *Store) DeleteCapture(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCaptures(ctx context.Context) ([]domain.Capture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, output_path, format, max_files, started_at, active
		FROM captures WHERE active = 1 ORDER BY started_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []domain.Capture
	for rows.Next() {
		var c domain.Capture
		if err := rows.Scan(&c.ID, &c.Topic, &c.OutputPath, &c.Format, &c.MaxFiles, &c.StartedAt, &c.Active); err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// --- ConversationStore ---

func (s *Store) AppendTurn(ctx context.Context, conversationID string, turn *domain.Turn) error {
	var toolCalls string
	if len(turn.ToolCalls) > 0 {
		b, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(b)
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, role, content, tool_calls, tool_call_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, string(turn.Role), turn.Content, toolCalls, turn.ToolCallID, ts)
	return err
}

func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	query := `
		SELECT role, content, tool_calls, tool_call_id, timestamp FROM (
			SELECT id, role, content, tool_calls, tool_call_id, timestamp
			FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role, toolCalls string
		if err := rows.Scan(&role, &t.Content, &toolCalls, &t.ToolCallID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- NoteStore ---

func (s *Store) CreateNote(ctx context.Context, note *domain.Note) error {
	ts := note.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, category, content, created_at) VALUES (?, ?, ?, ?)`,
		note.ID, note.Category, note.Content, ts)
	return err
}

func (s *Store) ListNotes(ctx context.Context) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, content, created_at FROM notes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.Category, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
