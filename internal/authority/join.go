package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

const (
	maxProfileKeys  = 32
	maxProfileBytes = 4096
)

// CreateJoinToken issues a join token for householdID. A non-positive ttl
// uses the configured default; ttl is capped at the configured maximum. The
// raw token is returned once and only its hash is stored.
func (a *Authority) CreateJoinToken(ctx context.Context, householdID int64, ttl time.Duration) (*model.JoinToken, string, error) {
	h, err := a.households.GetByID(ctx, householdID)
	if err != nil {
		return nil, "", err
	}
	if h == nil {
		return nil, "", fmt.Errorf("%w: unknown household", ErrInvalid)
	}

	if ttl <= 0 {
		ttl = a.cfg.JoinTokenTTL
	}
	ttl = min(ttl, a.cfg.JoinTokenMaxTTL)

	raw, err := newToken()
	if err != nil {
		return nil, "", err
	}
	now := a.now()
	jt, err := a.joins.Create(ctx, store.HashToken(raw), householdID, now.Add(ttl), now)
	if err != nil {
		return nil, "", err
	}
	a.observe(KindJoinToken, "issued")
	a.logger.Info("join token created", "household_id", householdID, "expires_at", jt.ExpiresAt)
	return jt, raw, nil
}

type Verification struct {
	Valid       bool  `json:"valid"`
	HouseholdID int64 `json:"-"`
}

// VerifyJoinToken reports whether raw names an unconsumed, unexpired token.
// It never says why a token is invalid. The error is non-nil only when
// storage fails.
func (a *Authority) VerifyJoinToken(ctx context.Context, raw string) (Verification, error) {
	if raw == "" {
		return Verification{}, nil
	}
	jt, err := a.joins.GetByHash(ctx, store.HashToken(raw))
	if err != nil {
		return Verification{}, err
	}
	if jt == nil || jt.Consumed || !a.now().Before(jt.ExpiresAt) {
		return Verification{}, nil
	}
	return Verification{Valid: true, HouseholdID: jt.HouseholdID}, nil
}

// ConsumeJoinToken creates a member from nm and burns the token in one
// atomic step. Of concurrent callers on the same token exactly one
// succeeds; the rest see ErrAlreadyConsumed. The returned setup token lets
// the new member set a passcode.
func (a *Authority) ConsumeJoinToken(ctx context.Context, raw string, nm model.NewMember) (*model.Member, string, error) {
	nm.DisplayName = strings.TrimSpace(nm.DisplayName)
	if nm.DisplayName == "" {
		return nil, "", fmt.Errorf("%w: display name is required", ErrValidation)
	}
	if err := ValidateProfile(nm.Profile); err != nil {
		return nil, "", err
	}
	if raw == "" {
		a.observe(KindJoinToken, "invalid")
		return nil, "", ErrInvalid
	}

	setupRaw, err := newToken()
	if err != nil {
		return nil, "", err
	}
	now := a.now()
	res, err := a.joins.Consume(ctx, store.HashToken(raw), nm,
		store.HashToken(setupRaw), now.Add(a.cfg.SetupTokenTTL), now)
	if err != nil {
		err = credentialError(err, ErrAlreadyConsumed)
		a.observe(KindJoinToken, outcome(err))
		return nil, "", err
	}

	a.observe(KindJoinToken, "ok")
	a.observe(KindSetupToken, "issued")
	a.logger.Info("join token consumed", "household_id", res.HouseholdID, "member_id", res.Member.ID)
	return res.Member, setupRaw, nil
}

// ValidateProfile bounds the opaque profile map. Its contents are not
// inspected.
func ValidateProfile(p map[string]any) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) > maxProfileKeys {
		return fmt.Errorf("%w: profile has more than %d keys", ErrValidation, maxProfileKeys)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: profile is not encodable: %v", ErrValidation, err)
	}
	if len(b) > maxProfileBytes {
		return fmt.Errorf("%w: profile exceeds %d bytes", ErrValidation, maxProfileBytes)
	}
	return nil
}

// credentialError maps store outcomes onto this package's taxonomy. used is
// the error for a credential that already reached its terminal state.
func credentialError(err, used error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrMismatch):
		return ErrInvalid
	case errors.Is(err, store.ErrUsed):
		return used
	case errors.Is(err, store.ErrExpired):
		return ErrExpired
	case errors.Is(err, store.ErrAlreadyBound):
		return ErrDeviceAlreadyPaired
	default:
		return err
	}
}
