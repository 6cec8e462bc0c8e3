package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/authority"
)

const msgInvalidCode = "invalid or expired code"

type PairHandler struct {
	authority *authority.Authority
	logger    *slog.Logger
}

func NewPairHandler(a *authority.Authority, logger *slog.Logger) *PairHandler {
	return &PairHandler{authority: a, logger: logger}
}

type pairStartRequest struct {
	DeviceID    string `json:"device_id"`
	DeviceType  string `json:"device_type"`
	DisplayName string `json:"display_name"`
	MemberID    *int64 `json:"member_id"`
}

// Start issues a pairing code on behalf of the signed-in member, who is the
// one approving the new device. Owners may name another member of the
// household instead.
func (h *PairHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req pairStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	ctx := r.Context()
	sub, _ := auth.FromContext(ctx)
	if sub.MemberID == 0 {
		writeError(w, http.StatusForbidden, "a member session is required to pair a device")
		return
	}
	memberID := sub.MemberID
	if req.MemberID != nil && *req.MemberID != sub.MemberID {
		if !auth.IsOwner(ctx) {
			writeError(w, http.StatusForbidden, "only the owner can pair a device for another member")
			return
		}
		memberID = *req.MemberID
	}

	pc, err := h.authority.CreatePairingCode(ctx, authority.PairingRequest{
		HouseholdID: sub.HouseholdID,
		DeviceID:    req.DeviceID,
		DeviceType:  req.DeviceType,
		DisplayName: strings.TrimSpace(req.DisplayName),
		MemberID:    memberID,
	})
	if errors.Is(err, authority.ErrInvalid) {
		writeError(w, http.StatusBadRequest, "unknown member")
		return
	}
	if err != nil {
		internalError(w, h.logger, "create pairing code", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"pairing_code": pc.Code,
		"expires_at":   pc.ExpiresAt,
	})
}

// Confirm exchanges a code for a device session. Every credential failure
// gets the same message.
func (h *PairHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code"`
		DeviceID string `json:"device_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, raw, err := h.authority.ConfirmPairingCode(r.Context(), req.Code, req.DeviceID)
	switch {
	case errors.Is(err, authority.ErrDeviceAlreadyPaired):
		writeError(w, http.StatusConflict, "device already paired")
		return
	case authority.IsCredentialError(err):
		writeError(w, http.StatusUnauthorized, msgInvalidCode)
		return
	case err != nil:
		internalError(w, h.logger, "confirm pairing code", err)
		return
	}

	setSessionCookie(w, r, raw, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":        raw,
		"household_id": sess.HouseholdID,
		"user_id":      sess.MemberID,
		"expires_at":   sess.ExpiresAt,
	})
}
