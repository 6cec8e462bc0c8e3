package setup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/homebase/internal/database"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

func newTestTracker(t *testing.T) (*Tracker, func() int) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tr := NewTracker(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return fixed })

	calls := 0
	tr.SetCallback(func(Status) { calls++ })
	return tr, func() int { return calls }
}

func TestMarkCompleteIdempotent(t *testing.T) {
	tr, calls := newTestTracker(t)
	ctx := context.Background()

	st, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.IsComplete {
		t.Fatal("fresh device should not be complete")
	}

	for range 2 {
		st, err = tr.MarkComplete(ctx)
		if err != nil {
			t.Fatalf("mark complete: %v", err)
		}
		if !st.IsComplete {
			t.Error("expected complete")
		}
	}
	if calls() != 1 {
		t.Errorf("callbacks = %d, want 1", calls())
	}
}

func TestResetInvalidatesCachedState(t *testing.T) {
	tr, calls := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.MarkComplete(ctx); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	before, _ := tr.Status(ctx)
	if before.Stale(before.ResetAt) {
		t.Error("current reset_at must not be stale")
	}

	// The clock is frozen: reset_at must still advance.
	after, err := tr.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if after.IsComplete {
		t.Error("expected incomplete after reset")
	}
	if !after.ResetAt.After(before.ResetAt) {
		t.Errorf("reset_at %v not after %v", after.ResetAt, before.ResetAt)
	}
	if after.Epoch != before.Epoch+1 {
		t.Errorf("epoch = %d, want %d", after.Epoch, before.Epoch+1)
	}
	if !after.Stale(before.ResetAt) {
		t.Error("client holding the old reset_at must be stale")
	}

	again, err := tr.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !again.ResetAt.After(after.ResetAt) {
		t.Errorf("second reset_at %v not after %v", again.ResetAt, after.ResetAt)
	}
	if calls() != 3 {
		t.Errorf("callbacks = %d, want 3", calls())
	}
}

func TestFactoryResetWipesHousehold(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	if _, _, err := store.NewHouseholdStore(db).CreateWithOwner(ctx, "Home",
		model.NewMember{DisplayName: "Owner"}, time.Now()); err != nil {
		t.Fatalf("create household: %v", err)
	}

	tr := NewTracker(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := tr.MarkComplete(ctx); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	st, err := tr.FactoryReset(ctx)
	if err != nil {
		t.Fatalf("factory reset: %v", err)
	}
	if st.IsComplete {
		t.Error("expected incomplete")
	}

	h, err := store.NewHouseholdStore(db).First(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if h != nil {
		t.Error("household survived factory reset")
	}
}
