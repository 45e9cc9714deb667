// Package memory gives the agent durable notes surviving restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/store"
)

// Manager wraps the note store with the remember/recall/forget operations
// exposed as tools.
type Manager struct {
	notes store.NoteStore
}

func New(notes store.NoteStore) *Manager {
	return &Manager{notes: notes}
}

// Remember stores a note and returns its id.
func (m *Manager) Remember(ctx context.Context, category, content string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = "general"
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("note content is empty")
	}
	note := &domain.Note{
		ID:        uuid.NewString(),
		Category:  category,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := m.notes.CreateNote(ctx, note); err != nil {
		return "", fmt.Errorf("creating note: %w", err)
	}
	return note.ID, nil
}

// Recall returns notes matching the query. An empty query returns everything
// in the category (or everything, if category is also empty). Matching is
// case-insensitive: a note matches when it contains every word of the query.
func (m *Manager) Recall(ctx context.Context, category, query string) ([]domain.Note, error) {
	notes, err := m.notes.ListNotes(ctx)
	if err != nil {
		return nil, err
	}

	if category != "" {
		filtered := notes[:0]
		for _, n := range notes {
			if strings.EqualFold(n.Category, category) {
				filtered = append(filtered, n)
			}
		}
		notes = filtered
	}

	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return notes, nil
	}

	var matched []domain.Note
	for _, n := range notes {
		hay := strings.ToLower(n.Content + " " + n.Category)
		all := true
		for _, w := range words {
			if !strings.Contains(hay, w) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

// Forget deletes a note by id.
func (m *Manager) Forget(ctx context.Context, id string) error {
	return m.notes.DeleteNote(ctx, id)
}

// Summary renders all notes grouped by category for the system prompt.
// Returns "" when there are no notes.
func (m *Manager) Summary(ctx context.Context) string {
	notes, err := m.notes.ListNotes(ctx)
	if err != nil || len(notes) == 0 {
		return ""
	}

	byCategory := make(map[string][]domain.Note)
	for _, n := range notes {
		byCategory[n.Category] = append(byCategory[n.Category], n)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&sb, "[%s]\n", c)
		for _, n := range byCategory[c] {
			fmt.Fprintf(&sb, "  %s: %s\n", n.ID[:8], n.Content)
		}
	}
	return sb.String()
}
