package model

import "time"

type SetupState struct {
	IsComplete  bool       `json:"is_complete"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Epoch       int64      `json:"epoch"`
	ResetAt     time.Time  `json:"reset_at"`
}
