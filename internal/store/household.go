package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

const householdCols = `id, name, owner_member_id, created_at, updated_at`

func scanHousehold(row scanner) (*model.Household, error) {
	var h model.Household
	var owner sql.NullInt64
	var createdAt, updatedAt string
	if err := row.Scan(&h.ID, &h.Name, &owner, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	h.OwnerMemberID = int64Ptr(owner)
	var err error
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateWithOwner inserts a household and its owner member in one
// transaction and links the two.
func (s *HouseholdStore) CreateWithOwner(ctx context.Context, name string, owner model.NewMember, now time.Time) (*model.Household, *model.Member, error) {
	var h *model.Household
	var m *model.Member
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		ts := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO households (name, created_at, updated_at) VALUES (?, ?, ?)`,
			name, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("insert household: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		m, err = insertMember(ctx, tx, id, model.RoleOwner, owner, now)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE households SET owner_member_id = ? WHERE id = ?`, m.ID, id,
		); err != nil {
			return fmt.Errorf("set household owner: %w", err)
		}

		h, err = getHousehold(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return h, m, nil
}

func getHousehold(ctx context.Context, q dbtx, id int64) (*model.Household, error) {
	row := q.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) GetByID(ctx context.Context, id int64) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

// First returns the oldest household, or nil when setup has not created one.
// A device hosts a single household.
func (s *HouseholdStore) First(ctx context.Context) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households ORDER BY id ASC LIMIT 1`)
	h, err := scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get first household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) Rename(ctx context.Context, id int64, name string, now time.Time) (*model.Household, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE households SET name = ?, updated_at = ? WHERE id = ?`,
		name, formatTime(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("rename household: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id)
}
