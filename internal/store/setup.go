package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type SetupStore struct {
	db *sql.DB
}

func NewSetupStore(db *sql.DB) *SetupStore {
	return &SetupStore{db: db}
}

func getSetupState(ctx context.Context, q dbtx) (*model.SetupState, error) {
	var st model.SetupState
	var completedAt sql.NullString
	var resetAt string
	err := q.QueryRowContext(ctx,
		`SELECT is_complete, completed_at, epoch, reset_at FROM setup_state WHERE id = 1`,
	).Scan(&st.IsComplete, &completedAt, &st.Epoch, &resetAt)
	if err != nil {
		return nil, fmt.Errorf("get setup state: %w", err)
	}
	if st.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if st.ResetAt, err = parseTime(resetAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SetupStore) Get(ctx context.Context) (*model.SetupState, error) {
	return getSetupState(ctx, s.db)
}

// MarkComplete sets the completion flag. It reports whether the flag
// changed; a second call is a no-op.
func (s *SetupStore) MarkComplete(ctx context.Context, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE setup_state SET is_complete = 1, completed_at = ? WHERE id = 1 AND is_complete = 0`,
		formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("mark setup complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Reset clears the completion flag and advances the epoch. When wipe is set
// every household, member, device and credential row is deleted in the same
// transaction.
func (s *SetupStore) Reset(ctx context.Context, wipe bool, now time.Time) (*model.SetupState, error) {
	var st *model.SetupState
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if wipe {
			for _, table := range []string{
				"sessions", "passcodes", "setup_tokens", "pairing_codes",
				"join_tokens", "devices", "members", "households", "settings",
			} {
				if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
					return fmt.Errorf("wipe %s: %w", table, err)
				}
			}
		}

		prev, err := getSetupState(ctx, tx)
		if err != nil {
			return err
		}
		resetAt := now.UTC()
		if !resetAt.After(prev.ResetAt) {
			resetAt = prev.ResetAt.Add(time.Nanosecond)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE setup_state SET is_complete = 0, completed_at = NULL, epoch = epoch + 1, reset_at = ? WHERE id = 1`,
			formatTime(resetAt),
		); err != nil {
			return fmt.Errorf("reset setup state: %w", err)
		}

		st, err = getSetupState(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
