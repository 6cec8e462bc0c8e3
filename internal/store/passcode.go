package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PasscodeStore struct {
	db *sql.DB
}

func NewPasscodeStore(db *sql.DB) *PasscodeStore {
	return &PasscodeStore{db: db}
}

func insertSetupToken(ctx context.Context, q dbtx, tokenHash string, memberID int64, expiresAt, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO setup_tokens (token_hash, member_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		tokenHash, memberID, formatTime(expiresAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert setup token: %w", err)
	}
	return nil
}

// CreateSetupToken issues a one-time token that authorizes setting the
// passcode of memberID.
func (s *PasscodeStore) CreateSetupToken(ctx context.Context, tokenHash string, memberID int64, expiresAt, now time.Time) error {
	return insertSetupToken(ctx, s.db, tokenHash, memberID, expiresAt, now)
}

// SetWithSetupToken consumes the setup token and stores the passcode hash
// for its member in one transaction. It returns the member id.
func (s *PasscodeStore) SetWithSetupToken(ctx context.Context, tokenHash, passcodeHash string, now time.Time) (int64, error) {
	var memberID int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE setup_tokens SET used = 1 WHERE token_hash = ? AND used = 0 AND expires_at > ?`,
			tokenHash, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("use setup token: %w", err)
		}

		var used bool
		var expiresAt string
		err = tx.QueryRowContext(ctx,
			`SELECT member_id, used, expires_at FROM setup_tokens WHERE token_hash = ?`, tokenHash,
		).Scan(&memberID, &used, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read setup token: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			exp, err := parseTime(expiresAt)
			if err != nil {
				return err
			}
			if !now.Before(exp) {
				return ErrExpired
			}
			return ErrUsed
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO passcodes (member_id, hash, set_at) VALUES (?, ?, ?)
			 ON CONFLICT(member_id) DO UPDATE SET hash = excluded.hash, set_at = excluded.set_at`,
			memberID, passcodeHash, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("store passcode: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return memberID, nil
}

// GetHash returns the stored passcode hash for a member, or "" if none is set.
func (s *PasscodeStore) GetHash(ctx context.Context, memberID int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM passcodes WHERE member_id = ?`, memberID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get passcode: %w", err)
	}
	return hash, nil
}

func (s *PasscodeStore) DeleteDeadSetupTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM setup_tokens WHERE used = 1 OR expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete dead setup tokens: %w", err)
	}
	return res.RowsAffected()
}
