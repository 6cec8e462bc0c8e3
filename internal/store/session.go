package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionCols = `id, household_id, member_id, device_id, issued_at, expires_at`

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var memberID sql.NullInt64
	var deviceID, expiresAt sql.NullString
	var issuedAt string
	if err := row.Scan(&sess.ID, &sess.HouseholdID, &memberID, &deviceID, &issuedAt, &expiresAt); err != nil {
		return nil, err
	}
	sess.MemberID = int64Ptr(memberID)
	if deviceID.Valid {
		id := deviceID.String
		sess.DeviceID = &id
	}
	var err error
	if sess.IssuedAt, err = parseTime(issuedAt); err != nil {
		return nil, err
	}
	if sess.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// NewSession describes a session to mint. TokenHash is HashToken of the raw
// bearer string handed to the client.
type NewSession struct {
	TokenHash   string
	HouseholdID int64
	MemberID    *int64
	DeviceID    *string
	ExpiresAt   *time.Time
}

func insertSession(ctx context.Context, q dbtx, ns NewSession, now time.Time) (*model.Session, error) {
	var deviceID sql.NullString
	if ns.DeviceID != nil {
		deviceID = sql.NullString{String: *ns.DeviceID, Valid: true}
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, household_id, member_id, device_id, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ns.TokenHash, ns.HouseholdID, nullInt64(ns.MemberID), deviceID, formatTime(now), nullTime(ns.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) Create(ctx context.Context, ns NewSession, now time.Time) (*model.Session, error) {
	return insertSession(ctx, s.db, ns, now)
}

// GetValid returns the unexpired session for tokenHash, or nil.
func (s *SessionStore) GetValid(ctx context.Context, tokenHash string, now time.Time) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE token_hash = ? AND (expires_at IS NULL OR expires_at > ?)`,
		tokenHash, formatTime(now),
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) DeleteByHash(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
