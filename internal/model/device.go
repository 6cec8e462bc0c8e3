package model

import "time"

type Device struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	DisplayName string     `json:"display_name"`
	MemberID    *int64     `json:"member_id"`
	PairedAt    *time.Time `json:"paired_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (d *Device) Paired() bool {
	return d.MemberID != nil
}
