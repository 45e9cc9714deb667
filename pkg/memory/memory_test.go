package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/roostlabs/roost/pkg/domain"
	"github.com/roostlabs/roost/pkg/store"
)

type fakeNotes struct {
	notes []domain.Note
}

func (f *fakeNotes) CreateNote(_ context.Context, n *domain.Note) error {
	f.notes = append(f.notes, *n)
	return nil
}

func (f *fakeNotes) ListNotes(_ context.Context) ([]domain.Note, error) {
	out := make([]domain.Note, len(f.notes))
	copy(out, f.notes)
	return out, nil
}

func (f *fakeNotes) DeleteNote(_ context.Context, id string) error {
	for i, n := range f.notes {
		if n.ID == id {
			f.notes = append(f.notes[:i], f.notes[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func TestRememberDefaultsCategory(t *testing.T) {
	m := New(&fakeNotes{})
	ctx := context.Background()

	id, err := m.Remember(ctx, "  ", "the recorder node needs a restart after updates")
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if id == "" {
		t.Fatal("Remember returned empty id")
	}

	notes, err := m.Recall(ctx, "general", "")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(notes) != 1 || notes[0].Category != "general" {
		t.Errorf("got %+v, want one note in category general", notes)
	}
}

func TestRememberRejectsEmptyContent(t *testing.T) {
	m := New(&fakeNotes{})
	if _, err := m.Remember(context.Background(), "ops", "   "); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestRecallKeywordMatch(t *testing.T) {
	m := New(&fakeNotes{})
	ctx := context.Background()
	m.Remember(ctx, "ops", "Disk fills up fast on the recorder machine")
	m.Remember(ctx, "ops", "Planner crashes when camera-front is down")
	m.Remember(ctx, "fleet", "Recorder disk is 500GB")

	got, err := m.Recall(ctx, "", "recorder disk")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2: %+v", len(got), got)
	}

	// Category narrows the match, case-insensitively.
	got, _ = m.Recall(ctx, "FLEET", "disk")
	if len(got) != 1 || got[0].Category != "fleet" {
		t.Errorf("category filter got %+v, want just the fleet note", got)
	}

	if got, _ := m.Recall(ctx, "", "nonexistent widget"); len(got) != 0 {
		t.Errorf("got %d notes for miss query, want 0", len(got))
	}
}

func TestForget(t *testing.T) {
	m := New(&fakeNotes{})
	ctx := context.Background()
	id, _ := m.Remember(ctx, "ops", "temp note")

	if err := m.Forget(ctx, id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := m.Forget(ctx, id); err != store.ErrNotFound {
		t.Errorf("second Forget = %v, want ErrNotFound", err)
	}
}

func TestSummaryGroupsByCategory(t *testing.T) {
	m := New(&fakeNotes{})
	ctx := context.Background()
	if got := m.Summary(ctx); got != "" {
		t.Errorf("empty store summary = %q, want empty", got)
	}

	m.Remember(ctx, "ops", "check disk weekly")
	m.Remember(ctx, "fleet", "recorder owns the SSD")

	got := m.Summary(ctx)
	fleetIdx := strings.Index(got, "[fleet]")
	opsIdx := strings.Index(got, "[ops]")
	if fleetIdx < 0 || opsIdx < 0 || fleetIdx > opsIdx {
		t.Errorf("summary not grouped in category order:\n%s", got)
	}
}
