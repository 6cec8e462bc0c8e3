package authority

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

// ValidatePasscode accepts 4 to 6 ASCII digits.
func ValidatePasscode(p string) error {
	if len(p) < 4 || len(p) > 6 {
		return fmt.Errorf("%w: passcode must be 4 to 6 digits", ErrValidation)
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return fmt.Errorf("%w: passcode must contain digits only", ErrValidation)
		}
	}
	return nil
}

// IssueSetupToken mints a one-time token authorizing SetPasscode for
// memberID.
func (a *Authority) IssueSetupToken(ctx context.Context, memberID int64) (string, error) {
	m, err := a.members.GetByID(ctx, memberID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", fmt.Errorf("%w: unknown member", ErrInvalid)
	}

	raw, err := newToken()
	if err != nil {
		return "", err
	}
	now := a.now()
	if err := a.passcodes.CreateSetupToken(ctx, store.HashToken(raw), memberID, now.Add(a.cfg.SetupTokenTTL), now); err != nil {
		return "", err
	}
	a.observe(KindSetupToken, "issued")
	return raw, nil
}

// SetPasscode validates passcode and then spends setupToken to store its
// hash. A malformed passcode leaves the setup token usable.
func (a *Authority) SetPasscode(ctx context.Context, setupToken, passcode string) error {
	if err := ValidatePasscode(passcode); err != nil {
		a.observe(KindPasscode, "rejected")
		return err
	}
	if setupToken == "" {
		a.observe(KindSetupToken, "invalid")
		return ErrInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), a.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash passcode: %w", err)
	}

	memberID, err := a.passcodes.SetWithSetupToken(ctx, store.HashToken(setupToken), string(hash), a.now())
	if err != nil {
		err = credentialError(err, ErrAlreadyConsumed)
		a.observe(KindSetupToken, outcome(err))
		return err
	}
	a.observe(KindSetupToken, "ok")
	a.observe(KindPasscode, "issued")
	a.logger.Info("passcode set", "member_id", memberID)
	return nil
}

// UnlockWithPasscode checks passcode against the member owning pageName and
// returns a session for that member. Unknown pages, members without a
// passcode and mismatches all yield ErrInvalidPasscode after a bcrypt
// comparison.
func (a *Authority) UnlockWithPasscode(ctx context.Context, pageName, passcode string) (*model.Session, string, error) {
	var m *model.Member
	var hash string
	if pageName != "" {
		var err error
		if m, err = a.members.GetByPageName(ctx, pageName); err != nil {
			return nil, "", err
		}
		if m != nil {
			if hash, err = a.passcodes.GetHash(ctx, m.ID); err != nil {
				return nil, "", err
			}
		}
	}

	if hash == "" {
		bcrypt.CompareHashAndPassword(a.dummyHash, []byte(passcode))
		a.observe(KindPasscode, "invalid")
		return nil, "", ErrInvalidPasscode
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			a.logger.Error("compare passcode", "member_id", m.ID, "error", err)
		}
		a.observe(KindPasscode, "invalid")
		return nil, "", ErrInvalidPasscode
	}

	now := a.now()
	exp := now.Add(a.cfg.UnlockSessionTTL)
	raw, sess, err := a.mintSession(ctx, store.NewSession{
		HouseholdID: m.HouseholdID,
		MemberID:    &m.ID,
		ExpiresAt:   &exp,
	}, now)
	if err != nil {
		return nil, "", err
	}
	a.observe(KindPasscode, "ok")
	a.logger.Info("page unlocked", "member_id", m.ID)
	return sess, raw, nil
}

// PageExists reports whether a member owns pageName.
func (a *Authority) PageExists(ctx context.Context, pageName string) (bool, error) {
	if pageName == "" {
		return false, nil
	}
	m, err := a.members.GetByPageName(ctx, pageName)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}
