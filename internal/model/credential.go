package model

import "time"

type JoinToken struct {
	ID          int64     `json:"id"`
	HouseholdID int64     `json:"household_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Consumed    bool      `json:"consumed"`
	ConsumedBy  *int64    `json:"consumed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type PairingCode struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	HouseholdID int64      `json:"household_id"`
	DeviceID    string     `json:"device_id"`
	DeviceType  string     `json:"device_type"`
	DisplayName string     `json:"display_name"`
	MemberID    int64      `json:"member_id"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Attempts    int        `json:"-"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type SetupToken struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

type Passcode struct {
	MemberID int64     `json:"member_id"`
	Hash     string    `json:"-"`
	SetAt    time.Time `json:"set_at"`
}
