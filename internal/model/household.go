package model

import "time"

type Household struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	OwnerMemberID *int64    `json:"owner_member_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Member struct {
	ID          int64          `json:"id"`
	HouseholdID int64          `json:"household_id"`
	DisplayName string         `json:"display_name"`
	PageName    string         `json:"page_name"`
	Role        string         `json:"role"`
	Language    string         `json:"language"`
	Timezone    string         `json:"timezone"`
	Profile     map[string]any `json:"profile,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewMember carries the caller-supplied fields for a member that does not
// exist yet. Profile is passed through opaquely.
type NewMember struct {
	DisplayName string         `json:"display_name"`
	Language    string         `json:"language"`
	Timezone    string         `json:"timezone"`
	Profile     map[string]any `json:"profile,omitempty"`
}
