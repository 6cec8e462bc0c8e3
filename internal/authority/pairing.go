package authority

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

// PairingRequest identifies the device asking to be paired and the member
// approving it. The device will act for MemberID, who must belong to the
// household.
type PairingRequest struct {
	HouseholdID int64
	DeviceID    string
	DeviceType  string
	DisplayName string
	MemberID    int64
}

func (a *Authority) CreatePairingCode(ctx context.Context, req PairingRequest) (*model.PairingCode, error) {
	h, err := a.households.GetByID(ctx, req.HouseholdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: unknown household", ErrInvalid)
	}
	m, err := a.members.GetByID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.HouseholdID != req.HouseholdID {
		return nil, fmt.Errorf("%w: unknown member", ErrInvalid)
	}

	now := a.now()
	pc, err := a.codes.Create(ctx, store.NewPairingCode{
		HouseholdID: req.HouseholdID,
		DeviceID:    strings.TrimSpace(req.DeviceID),
		DeviceType:  req.DeviceType,
		DisplayName: req.DisplayName,
		MemberID:    req.MemberID,
		ExpiresAt:   now.Add(a.cfg.PairingCodeTTL),
	}, now)
	if err != nil {
		return nil, err
	}
	a.observe(KindPairingCode, "issued")
	a.logger.Info("pairing code created", "household_id", req.HouseholdID, "member_id", req.MemberID, "device_id", pc.DeviceID, "expires_at", pc.ExpiresAt)
	return pc, nil
}

// ConfirmPairingCode exchanges a live code for a session bound to the
// resolved member and device. A code confirms once; every later attempt
// fails with ErrAlreadyConfirmed and issues nothing.
func (a *Authority) ConfirmPairingCode(ctx context.Context, code, deviceID string) (*model.Session, string, error) {
	code = strings.TrimSpace(code)
	deviceID = strings.TrimSpace(deviceID)
	if code == "" {
		a.observe(KindPairingCode, "invalid")
		return nil, "", ErrInvalid
	}

	raw, err := newToken()
	if err != nil {
		return nil, "", err
	}
	now := a.now()
	res, err := a.codes.Confirm(ctx, code, deviceID, store.HashToken(raw), a.deviceExpiry(now), now)
	if err != nil {
		err = credentialError(err, ErrAlreadyConfirmed)
		a.observe(KindPairingCode, outcome(err))
		return nil, "", err
	}

	a.observe(KindPairingCode, "ok")
	a.observe(KindSession, "issued")
	a.logger.Info("pairing code confirmed", "household_id", res.Code.HouseholdID, "device_id", deviceID, "member_id", res.MemberID)
	return res.Session, raw, nil
}
