package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dukerupert/homebase/internal/model"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

const memberCols = `id, household_id, display_name, page_name, role, language, timezone, profile, created_at`

func scanMember(row scanner) (*model.Member, error) {
	var m model.Member
	var profile, createdAt string
	err := row.Scan(&m.ID, &m.HouseholdID, &m.DisplayName, &m.PageName, &m.Role,
		&m.Language, &m.Timezone, &profile, &createdAt)
	if err != nil {
		return nil, err
	}
	if profile != "" && profile != "{}" {
		if err := json.Unmarshal([]byte(profile), &m.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// insertMember creates a member row and assigns it a unique page name
// derived from the display name.
func insertMember(ctx context.Context, q dbtx, householdID int64, role string, nm model.NewMember, now time.Time) (*model.Member, error) {
	profile := []byte("{}")
	if len(nm.Profile) > 0 {
		var err error
		if profile, err = json.Marshal(nm.Profile); err != nil {
			return nil, fmt.Errorf("encode profile: %w", err)
		}
	}

	page, err := uniquePageName(ctx, q, nm.DisplayName)
	if err != nil {
		return nil, err
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO members (household_id, display_name, page_name, role, language, timezone, profile, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		householdID, nm.DisplayName, page, role, nm.Language, nm.Timezone, string(profile), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := q.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err != nil {
		return nil, fmt.Errorf("read member: %w", err)
	}
	return m, nil
}

func uniquePageName(ctx context.Context, q dbtx, displayName string) (string, error) {
	base := Slugify(displayName)
	candidate := base
	for i := 2; ; i++ {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE page_name = ?`, candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("check page name: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

// Slugify lowercases s and keeps letters and digits, collapsing everything
// else into single dashes. An empty result becomes "member".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "member"
	}
	return out
}

func (s *MemberStore) Create(ctx context.Context, householdID int64, role string, nm model.NewMember, now time.Time) (*model.Member, error) {
	return insertMember(ctx, s.db, householdID, role, nm, now)
}

func (s *MemberStore) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) GetByPageName(ctx context.Context, page string) (*model.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberCols+` FROM members WHERE page_name = ?`, page)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member by page: %w", err)
	}
	return m, nil
}

func (s *MemberStore) ListByHousehold(ctx context.Context, householdID int64) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberCols+` FROM members WHERE household_id = ? ORDER BY id ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *MemberStore) CountByHousehold(ctx context.Context, householdID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members WHERE household_id = ?`, householdID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}
