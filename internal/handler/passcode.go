package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/homebase/internal/authority"
	"github.com/dukerupert/homebase/internal/middleware"
)

const msgIncorrectPasscode = "incorrect passcode"

// PasscodeHandler covers passcode setup, personal page unlock and sign-out.
type PasscodeHandler struct {
	authority *authority.Authority
	logger    *slog.Logger
}

func NewPasscodeHandler(a *authority.Authority, logger *slog.Logger) *PasscodeHandler {
	return &PasscodeHandler{authority: a, logger: logger}
}

func (h *PasscodeHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SetupToken string `json:"setup_token"`
		Passcode   string `json:"passcode"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.authority.SetPasscode(r.Context(), req.SetupToken, req.Passcode)
	switch {
	case errors.Is(err, authority.ErrValidation):
		writeError(w, http.StatusBadRequest, "passcode must be 4-6 digits")
		return
	case authority.IsCredentialError(err):
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	case err != nil:
		internalError(w, h.logger, "set passcode", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type unlockRequest struct {
	PageName string `json:"page_name"`
	// Older front-ends send camelCase.
	PageNameCamel string `json:"pageName"`
	Passcode      string `json:"passcode"`
}

func (h *PasscodeHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	page := req.PageName
	if page == "" {
		page = req.PageNameCamel
	}

	sess, raw, err := h.authority.UnlockWithPasscode(r.Context(), strings.TrimSpace(page), req.Passcode)
	if authority.IsCredentialError(err) {
		writeError(w, http.StatusUnauthorized, msgIncorrectPasscode)
		return
	}
	if err != nil {
		internalError(w, h.logger, "unlock", err)
		return
	}

	setSessionCookie(w, r, raw, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      raw,
		"member_id":  sess.MemberID,
		"expires_at": sess.ExpiresAt,
	})
}

// PageExists is the existence check the unlock screen uses before asking for a
// passcode.
func (h *PasscodeHandler) PageExists(w http.ResponseWriter, r *http.Request) {
	ok, err := h.authority.PageExists(r.Context(), r.PathValue("name"))
	if err != nil {
		internalError(w, h.logger, "page lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": ok})
}

func (h *PasscodeHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authority.RevokeSession(r.Context(), middleware.BearerToken(r)); err != nil {
		internalError(w, h.logger, "revoke session", err)
		return
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
