// Package store defines the persistence interfaces for watchers, captures,
// conversation transcripts, and memory notes. Records load in full at
// startup and save on mutation.
package store

import (
	"context"
	"errors"

	"github.com/roostlabs/roost/pkg/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// WatcherStore persists watcher definitions and their evaluation history.
type WatcherStore interface {
	// SaveWatcher inserts or updates a watcher keyed by name.
	SaveWatcher(ctx context.Context, w *domain.Watcher) error

	// DeleteWatcher removes a watcher and its evaluation history.
	// Returns ErrNotFound if the watcher does not exist.
	DeleteWatcher(ctx context.Context, name string) error

	// ListWatchers returns all watchers, ordered by creation time.
	ListWatchers(ctx context.Context) ([]domain.Watcher, error)

	// AppendEval appends one entry to a watcher's history. History is
	// append-only; entries are never rewritten.
	AppendEval(ctx context.Context, ev *domain.WatcherEval) error

	// RecentEvals returns the most recent n history entries for a watcher,
	// oldest first.
	RecentEvals(ctx context.Context, watcherName string, n int) ([]domain.WatcherEval, error)
}

// CaptureStore persists capture definitions so they can be considered for
// resumption after restart.
type CaptureStore interface {
	// SaveCapture inserts or updates a capture keyed by ID.
	SaveCapture(ctx context.Context, c *domain.Capture) error

	// DeleteCapture removes a capture. Returns ErrNotFound if absent.
	DeleteCapture(ctx context.Context, id string) error

	// ListCaptures returns all active captures, ordered by start time.
	ListCaptures(ctx context.Context) ([]domain.Capture, error)
}

// ConversationStore persists full conversation transcripts. Transcripts are
// append-only; a bounded suffix is what gets sent to the model.
type ConversationStore interface {
	// AppendTurn appends one turn to a conversation, creating the
	// conversation on first append.
	AppendTurn(ctx context.Context, conversationID string, turn *domain.Turn) error

	// RecentTurns returns the most recent limit turns in chronological
	// order; limit <= 0 returns the full transcript.
	RecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
}

// NoteStore persists memory notes.
type NoteStore interface {
	// CreateNote persists a new note. The ID must be set by the caller.
	CreateNote(ctx context.Context, note *domain.Note) error

	// ListNotes returns all notes, ordered by creation time.
	ListNotes(ctx context.Context) ([]domain.Note, error)

	// DeleteNote removes a note by ID. Returns ErrNotFound if absent.
	DeleteNote(ctx context.Context, id string) error
}
