package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

const deviceCols = `id, type, display_name, member_id, paired_at, created_at`

func scanDevice(row scanner) (*model.Device, error) {
	var d model.Device
	var memberID sql.NullInt64
	var pairedAt sql.NullString
	var createdAt string
	if err := row.Scan(&d.ID, &d.Type, &d.DisplayName, &memberID, &pairedAt, &createdAt); err != nil {
		return nil, err
	}
	d.MemberID = int64Ptr(memberID)
	var err error
	if d.PairedAt, err = parseNullTime(pairedAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func getDevice(ctx context.Context, q dbtx, id string) (*model.Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceCols+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// registerDevice inserts the device if its id is new. An existing record
// keeps its type, name and binding.
func registerDevice(ctx context.Context, q dbtx, id, deviceType, displayName string, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO devices (id, type, display_name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, deviceType, displayName, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

// bindDevice sets the owning member exactly once. Binding to the member it is
// already bound to is a no-op; any other member yields ErrAlreadyBound.
func bindDevice(ctx context.Context, q dbtx, id string, memberID int64, now time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE devices SET member_id = ?, paired_at = ? WHERE id = ? AND member_id IS NULL`,
		memberID, formatTime(now), id,
	)
	if err != nil {
		return fmt.Errorf("bind device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	d, err := getDevice(ctx, q, id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	if d.MemberID != nil && *d.MemberID == memberID {
		return nil
	}
	return ErrAlreadyBound
}

func (s *DeviceStore) Register(ctx context.Context, id, deviceType, displayName string, now time.Time) (*model.Device, error) {
	if err := registerDevice(ctx, s.db, id, deviceType, displayName, now); err != nil {
		return nil, err
	}
	return getDevice(ctx, s.db, id)
}

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*model.Device, error) {
	return getDevice(ctx, s.db, id)
}

// Unbind clears the owning member and revokes every session issued to the
// device, so the next pairing starts from a clean slate.
func (s *DeviceStore) Unbind(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE devices SET member_id = NULL, paired_at = NULL WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("unbind device: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE device_id = ?`, id); err != nil {
			return fmt.Errorf("revoke device sessions: %w", err)
		}
		return nil
	})
}

func (s *DeviceStore) ListByMember(ctx context.Context, memberID int64) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE member_id = ? ORDER BY created_at ASC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}
