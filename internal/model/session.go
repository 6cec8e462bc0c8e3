package model

import "time"

// Session is a bearer credential. Exactly one of MemberID and DeviceID is the
// primary subject; a paired device session carries both.
type Session struct {
	ID          int64      `json:"id"`
	HouseholdID int64      `json:"household_id"`
	MemberID    *int64     `json:"member_id"`
	DeviceID    *string    `json:"device_id"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}
