package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type PairingCodeStore struct {
	db *sql.DB
}

func NewPairingCodeStore(db *sql.DB) *PairingCodeStore {
	return &PairingCodeStore{db: db}
}

const pairingCodeCols = `id, code, household_id, device_id, device_type, display_name, member_id, expires_at, attempts, confirmed, confirmed_at, created_at`

func scanPairingCode(row scanner) (*model.PairingCode, error) {
	var pc model.PairingCode
	var confirmedAt sql.NullString
	var expiresAt, createdAt string
	err := row.Scan(&pc.ID, &pc.Code, &pc.HouseholdID, &pc.DeviceID, &pc.DeviceType, &pc.DisplayName,
		&pc.MemberID, &expiresAt, &pc.Attempts, &pc.Confirmed, &confirmedAt, &createdAt)
	if err != nil {
		return nil, err
	}
	if pc.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if pc.ConfirmedAt, err = parseNullTime(confirmedAt); err != nil {
		return nil, err
	}
	if pc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &pc, nil
}

// generateCode returns a 6-digit numeric code (100000–999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

const maxCodeAttempts = 20

// MaxConfirmAttempts bounds failed confirmations. Every miss counts against
// all live codes, and a code that has seen this many stops confirming.
const MaxConfirmAttempts = 10

// NewPairingCode holds the device identity a pairing code is issued for and
// the member who approved it. DeviceID may be empty, in which case the
// confirming device binds it.
type NewPairingCode struct {
	HouseholdID int64
	DeviceID    string
	DeviceType  string
	DisplayName string
	MemberID    int64
	ExpiresAt   time.Time
}

// Create issues a code that is unique among live (unexpired, unconfirmed)
// codes. Earlier live codes for the same device are retired first.
func (s *PairingCodeStore) Create(ctx context.Context, npc NewPairingCode, now time.Time) (*model.PairingCode, error) {
	var pc *model.PairingCode
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		ts := formatTime(now)
		if npc.DeviceID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE pairing_codes SET expires_at = ? WHERE device_id = ? AND confirmed = 0 AND expires_at > ?`,
				ts, npc.DeviceID, ts,
			); err != nil {
				return fmt.Errorf("retire previous codes: %w", err)
			}
		}

		var code string
		for attempt := 0; ; attempt++ {
			if attempt == maxCodeAttempts {
				return fmt.Errorf("no free pairing code after %d attempts", maxCodeAttempts)
			}
			c, err := generateCode()
			if err != nil {
				return err
			}
			var live int
			err = tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM pairing_codes WHERE code = ? AND confirmed = 0 AND expires_at > ?`,
				c, ts,
			).Scan(&live)
			if err != nil {
				return fmt.Errorf("check code: %w", err)
			}
			if live == 0 {
				code = c
				break
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO pairing_codes (code, household_id, device_id, device_type, display_name, member_id, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			code, npc.HouseholdID, npc.DeviceID, npc.DeviceType, npc.DisplayName,
			npc.MemberID, formatTime(npc.ExpiresAt), ts,
		)
		if err != nil {
			return fmt.Errorf("insert pairing code: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT `+pairingCodeCols+` FROM pairing_codes WHERE id = ?`, id)
		pc, err = scanPairingCode(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// ConfirmResult is what a successful confirmation produced.
type ConfirmResult struct {
	Code     *model.PairingCode
	MemberID int64
	Session  *model.Session
}

// Confirm resolves code, flips it to confirmed, binds the device to the
// member who approved the code and mints a session, all in one transaction.
// An unknown code or a device mismatch counts as a failed attempt.
func (s *PairingCodeStore) Confirm(ctx context.Context, code, deviceID, sessionHash string, sessionExpires *time.Time, now time.Time) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, code, deviceID, sessionHash, sessionExpires, now)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMismatch) {
		if merr := s.recordMiss(ctx, now); merr != nil {
			return nil, errors.Join(err, merr)
		}
	}
	return res, err
}

// recordMiss charges a failed confirmation to every live code.
func (s *PairingCodeStore) recordMiss(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pairing_codes SET attempts = attempts + 1 WHERE confirmed = 0 AND expires_at > ?`,
		formatTime(now))
	if err != nil {
		return fmt.Errorf("record pairing miss: %w", err)
	}
	return nil
}

func (s *PairingCodeStore) confirm(ctx context.Context, code, deviceID, sessionHash string, sessionExpires *time.Time, now time.Time) (*ConfirmResult, error) {
	var out ConfirmResult
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+pairingCodeCols+` FROM pairing_codes WHERE code = ? ORDER BY id DESC LIMIT 1`, code)
		pc, err := scanPairingCode(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get pairing code: %w", err)
		}

		switch {
		case pc.Confirmed:
			return ErrUsed
		case !now.Before(pc.ExpiresAt), pc.Attempts >= MaxConfirmAttempts:
			return ErrExpired
		case pc.DeviceID != "" && pc.DeviceID != deviceID:
			return ErrMismatch
		}

		ts := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`UPDATE pairing_codes SET confirmed = 1, confirmed_at = ?, device_id = ?
			 WHERE id = ? AND confirmed = 0 AND expires_at > ? AND attempts < ?`,
			ts, deviceID, pc.ID, ts, MaxConfirmAttempts,
		)
		if err != nil {
			return fmt.Errorf("confirm pairing code: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return ErrUsed
		}

		memberID := pc.MemberID
		ns := NewSession{
			TokenHash:   sessionHash,
			HouseholdID: pc.HouseholdID,
			MemberID:    &memberID,
			ExpiresAt:   sessionExpires,
		}
		if deviceID != "" {
			if err := registerDevice(ctx, tx, deviceID, pc.DeviceType, pc.DisplayName, now); err != nil {
				return err
			}
			if err := bindDevice(ctx, tx, deviceID, memberID, now); err != nil {
				return err
			}
			ns.DeviceID = &deviceID
		}

		sess, err := insertSession(ctx, tx, ns, now)
		if err != nil {
			return err
		}

		pc.Confirmed = true
		pc.ConfirmedAt = &now
		pc.DeviceID = deviceID
		out = ConfirmResult{Code: pc, MemberID: memberID, Session: sess}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *PairingCodeStore) DeleteDead(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_codes WHERE confirmed = 1 OR expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete dead pairing codes: %w", err)
	}
	return res.RowsAffected()
}
