package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wizardhq/datawizard/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func sampleTurns(now time.Time) []model.Turn {
	return []model.Turn{
		{
			ID:        "t1",
			Role:      model.RoleUser,
			Content:   "plot the sales column",
			CreatedAt: now,
		},
		{
			ID:        "t2",
			Role:      model.RoleAssistant,
			Content:   "Here is the distribution of sales.",
			Thought:   "A histogram fits a single numeric column.",
			CreatedAt: now.Add(2 * time.Second),
		},
		{
			ID:        "t3",
			Role:      model.RoleAssistant,
			Content:   model.FencedCode("python", "df['sales'].hist()"),
			ImageData: "iVBORw0KGgo=",
			CreatedAt: now.Add(3 * time.Second),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	turns := sampleTurns(now)
	if err := store.Save("sess-1", turns); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("expected %d turns, got %d", len(turns), len(got))
	}
	for i := range turns {
		if got[i].ID != turns[i].ID || got[i].Role != turns[i].Role || got[i].Content != turns[i].Content {
			t.Fatalf("turn %d mismatch: %+v vs %+v", i, got[i], turns[i])
		}
		if !got[i].CreatedAt.Equal(turns[i].CreatedAt) {
			t.Fatalf("turn %d timestamp drift: %v vs %v", i, got[i].CreatedAt, turns[i].CreatedAt)
		}
	}
	if got[1].Thought != turns[1].Thought {
		t.Fatalf("thought not restored: %q", got[1].Thought)
	}
	if got[2].ImageData != turns[2].ImageData {
		t.Fatalf("image data not restored: %q", got[2].ImageData)
	}
}

func TestActionsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	proposal := model.Turn{
		ID:        "p1",
		Role:      model.RoleAssistant,
		Content:   "This plan is awaiting your confirmation.",
		CreatedAt: now,
		Actions: []model.Action{
			{Label: "Confirm & Execute", Variant: model.VariantPrimary,
				Effect: model.ActionEffect{Kind: model.ActionConfirm, TurnID: "p1"}},
			{Label: "Cancel", Variant: model.VariantSecondary,
				Effect: model.ActionEffect{Kind: model.ActionCancel, TurnID: "p1"}},
		},
	}
	if err := store.Save("sess-2", []model.Turn{proposal}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load("sess-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || len(got[0].Actions) != 2 {
		t.Fatalf("expected 1 turn with 2 actions, got %+v", got)
	}
	if got[0].Actions[0].Effect.Kind != model.ActionConfirm || got[0].Actions[0].Effect.TurnID != "p1" {
		t.Fatalf("confirm effect not restored: %+v", got[0].Actions[0])
	}
	if got[0].Actions[1].Effect.Kind != model.ActionCancel {
		t.Fatalf("cancel effect not restored: %+v", got[0].Actions[1])
	}
}

func TestSaveReplacesSnapshot(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.Save("sess-3", sampleTurns(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A shorter snapshot (retry truncation) must fully replace the old one.
	short := sampleTurns(now)[:1]
	if err := store.Save("sess-3", short); err != nil {
		t.Fatalf("save short: %v", err)
	}

	got, err := store.Load("sess-3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected snapshot replaced with 1 turn, got %d", len(got))
	}
}

func TestLoadMissingSessionReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load("nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.Save("sess-4", sampleTurns(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear("sess-4"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := store.Load("sess-4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected empty snapshot after clear, got %d turns", len(got))
	}

	// Clearing again is harmless.
	if err := store.Clear("sess-4"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	if err := store.Save("a", sampleTurns(now)); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save("b", sampleTurns(now)[:1]); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := store.Clear("a"); err != nil {
		t.Fatalf("clear a: %v", err)
	}

	got, err := store.Load("b")
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected session b untouched, got %d turns", len(got))
	}
}
