// Package setup tracks whether onboarding has completed and the reset epoch
// clients use to invalidate cached onboarding state.
package setup

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/homebase/internal/store"
)

type Status struct {
	IsComplete bool      `json:"is_complete"`
	ResetAt    time.Time `json:"reset_at"`
	Epoch      int64     `json:"epoch"`
}

// Stale reports whether a client that last saw clientResetAt holds cached
// onboarding state from before the most recent reset.
func (s Status) Stale(clientResetAt time.Time) bool {
	return !clientResetAt.Equal(s.ResetAt)
}

// ChangeCallback is invoked after every state change.
type ChangeCallback func(Status)

type Tracker struct {
	store  *store.SetupStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	callback ChangeCallback
}

func NewTracker(db *sql.DB, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store.NewSetupStore(db),
		logger: logger.With("component", "setup"),
		now:    time.Now,
	}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) SetCallback(cb ChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

func (t *Tracker) Status(ctx context.Context) (Status, error) {
	st, err := t.store.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{IsComplete: st.IsComplete, ResetAt: st.ResetAt, Epoch: st.Epoch}, nil
}

// MarkComplete records that onboarding finished. Calling it again is a
// no-op and does not fire the callback.
func (t *Tracker) MarkComplete(ctx context.Context) (Status, error) {
	changed, err := t.store.MarkComplete(ctx, t.now())
	if err != nil {
		return Status{}, err
	}
	st, err := t.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	if changed {
		t.logger.Info("setup marked complete", "epoch", st.Epoch)
		t.notify(st)
	}
	return st, nil
}

// Reset clears completion and moves reset_at strictly forward, keeping
// household data.
func (t *Tracker) Reset(ctx context.Context) (Status, error) {
	return t.reset(ctx, false)
}

// FactoryReset is Reset plus deletion of every household, member, device,
// credential and setting in the same transaction.
func (t *Tracker) FactoryReset(ctx context.Context) (Status, error) {
	return t.reset(ctx, true)
}

func (t *Tracker) reset(ctx context.Context, wipe bool) (Status, error) {
	st, err := t.store.Reset(ctx, wipe, t.now())
	if err != nil {
		return Status{}, err
	}
	out := Status{IsComplete: st.IsComplete, ResetAt: st.ResetAt, Epoch: st.Epoch}
	t.logger.Info("setup reset", "epoch", out.Epoch, "reset_at", out.ResetAt, "wipe", wipe)
	t.notify(out)
	return out, nil
}

func (t *Tracker) notify(st Status) {
	t.mu.Lock()
	cb := t.callback
	t.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}
