package handler

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/authority"
	"github.com/dukerupert/homebase/internal/model"
)

const msgInvalidToken = "invalid or expired token"

// maxTTLMinutes is the largest minute count that still fits a time.Duration.
// The authority applies its own, much lower, cap afterwards.
const maxTTLMinutes = math.MaxInt64 / int64(time.Minute)

type JoinHandler struct {
	authority *authority.Authority
	logger    *slog.Logger
}

func NewJoinHandler(a *authority.Authority, logger *slog.Logger) *JoinHandler {
	return &JoinHandler{authority: a, logger: logger}
}

// Create issues a join token for the caller's household. Owner only.
func (h *JoinHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TTLMinutes int `json:"ttl_minutes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TTLMinutes < 0 {
		writeError(w, http.StatusBadRequest, "ttl_minutes must not be negative")
		return
	}

	ttl := time.Duration(min(int64(req.TTLMinutes), maxTTLMinutes)) * time.Minute

	jt, raw, err := h.authority.CreateJoinToken(r.Context(), auth.HouseholdID(r.Context()), ttl)
	if errors.Is(err, authority.ErrInvalid) {
		writeError(w, http.StatusNotFound, "household not found")
		return
	}
	if err != nil {
		internalError(w, h.logger, "create join token", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      raw,
		"expires_at": jt.ExpiresAt,
	})
}

// Verify answers only whether the token is usable.
func (h *JoinHandler) Verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.authority.VerifyJoinToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		internalError(w, h.logger, "verify join token", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type consumeRequest struct {
	Token string `json:"token"`
	model.NewMember
}

func (h *JoinHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, setupToken, err := h.authority.ConsumeJoinToken(r.Context(), req.Token, req.NewMember)
	switch {
	case errors.Is(err, authority.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case authority.IsCredentialError(err):
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	case err != nil:
		internalError(w, h.logger, "consume join token", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"member":      m,
		"setup_token": setupToken,
	})
}
