package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type JoinTokenStore struct {
	db *sql.DB
}

func NewJoinTokenStore(db *sql.DB) *JoinTokenStore {
	return &JoinTokenStore{db: db}
}

const joinTokenCols = `id, household_id, expires_at, consumed, consumed_by, created_at`

func scanJoinToken(row scanner) (*model.JoinToken, error) {
	var jt model.JoinToken
	var consumedBy sql.NullInt64
	var expiresAt, createdAt string
	if err := row.Scan(&jt.ID, &jt.HouseholdID, &expiresAt, &jt.Consumed, &consumedBy, &createdAt); err != nil {
		return nil, err
	}
	jt.ConsumedBy = int64Ptr(consumedBy)
	var err error
	if jt.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if jt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &jt, nil
}

func (s *JoinTokenStore) Create(ctx context.Context, tokenHash string, householdID int64, expiresAt, now time.Time) (*model.JoinToken, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO join_tokens (token_hash, household_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, householdID, formatTime(expiresAt), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert join token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+joinTokenCols+` FROM join_tokens WHERE id = ?`, id)
	return scanJoinToken(row)
}

// GetByHash returns the token row regardless of state, or nil.
func (s *JoinTokenStore) GetByHash(ctx context.Context, tokenHash string) (*model.JoinToken, error) {
	return getJoinToken(ctx, s.db, tokenHash)
}

func getJoinToken(ctx context.Context, q dbtx, tokenHash string) (*model.JoinToken, error) {
	row := q.QueryRowContext(ctx, `SELECT `+joinTokenCols+` FROM join_tokens WHERE token_hash = ?`, tokenHash)
	jt, err := scanJoinToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get join token: %w", err)
	}
	return jt, nil
}

// ConsumeResult is what a successful join token consumption produced.
type ConsumeResult struct {
	Member      *model.Member
	HouseholdID int64
}

// Consume flips the token to consumed and creates the joining member in one
// transaction. The conditional update is the compare-and-set: of any number
// of concurrent callers exactly one sees a row affected.
//
// setupTokenHash, when non-empty, also issues a one-time setup token for the
// new member inside the same transaction.
func (s *JoinTokenStore) Consume(ctx context.Context, tokenHash string, nm model.NewMember, setupTokenHash string, setupExpires, now time.Time) (*ConsumeResult, error) {
	var out ConsumeResult
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE join_tokens SET consumed = 1 WHERE token_hash = ? AND consumed = 0 AND expires_at > ?`,
			tokenHash, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("flip join token: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			jt, err := getJoinToken(ctx, tx, tokenHash)
			switch {
			case err != nil:
				return err
			case jt == nil:
				return ErrNotFound
			case jt.Consumed:
				return ErrUsed
			default:
				return ErrExpired
			}
		}

		jt, err := getJoinToken(ctx, tx, tokenHash)
		if err != nil {
			return err
		}

		m, err := insertMember(ctx, tx, jt.HouseholdID, model.RoleMember, nm, now)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE join_tokens SET consumed_by = ? WHERE id = ?`, m.ID, jt.ID,
		); err != nil {
			return fmt.Errorf("record consumer: %w", err)
		}

		if setupTokenHash != "" {
			if err := insertSetupToken(ctx, tx, setupTokenHash, m.ID, setupExpires, now); err != nil {
				return err
			}
		}

		out = ConsumeResult{Member: m, HouseholdID: jt.HouseholdID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDead removes consumed and expired tokens. Verification already
// rejects them; this only reclaims space.
func (s *JoinTokenStore) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM join_tokens WHERE consumed = 1 OR expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete dead join tokens: %w", err)
	}
	return res.RowsAffected()
}
