package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/netmode"
	"github.com/dukerupert/homebase/internal/registry"
	"github.com/dukerupert/homebase/internal/setup"
	"github.com/dukerupert/homebase/internal/store"
)

// StatusHandler serves the snapshot front-ends poll plus the read-mostly
// household endpoints.
type StatusHandler struct {
	tracker  *setup.Tracker
	registry *registry.Registry
	settings *store.SettingsStore
	network  *netmode.Controller
	logger   *slog.Logger
}

func NewStatusHandler(t *setup.Tracker, reg *registry.Registry, ss *store.SettingsStore, nc *netmode.Controller, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{tracker: t, registry: reg, settings: ss, network: nc, logger: logger}
}

type caller struct {
	HouseholdID int64  `json:"household_id"`
	MemberID    int64  `json:"member_id,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Status never blocks on an in-flight network switch.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.tracker.Status(ctx)
	if err != nil {
		internalError(w, h.logger, "get setup status", err)
		return
	}
	agentName, err := h.settings.Get(ctx, store.SettingAgentName)
	if err != nil {
		internalError(w, h.logger, "get agent name", err)
		return
	}
	hh, err := h.registry.CurrentHousehold(ctx)
	if err != nil {
		internalError(w, h.logger, "get household", err)
		return
	}

	resp := map[string]any{
		"network":    h.network.Status(),
		"setup":      st,
		"agent_name": agentName,
		"household":  hh,
	}
	if hh != nil {
		n, err := h.registry.MemberCount(ctx, hh.ID)
		if err != nil {
			internalError(w, h.logger, "count members", err)
			return
		}
		resp["member_count"] = n
	}
	if sub, ok := auth.FromContext(ctx); ok {
		resp["caller"] = caller{
			HouseholdID: sub.HouseholdID,
			MemberID:    sub.MemberID,
			DeviceID:    sub.DeviceID,
			Role:        sub.Role,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.registry.ListMembers(r.Context(), auth.HouseholdID(r.Context()))
	if err != nil {
		internalError(w, h.logger, "list members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// Devices lists the devices paired to the caller.
func (h *StatusHandler) Devices(w http.ResponseWriter, r *http.Request) {
	memberID := auth.MemberID(r.Context())
	if memberID == 0 {
		writeError(w, http.StatusForbidden, "no member bound to this session")
		return
	}
	devices, err := h.registry.ListDevices(r.Context(), memberID)
	if err != nil {
		internalError(w, h.logger, "list devices", err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// UnpairDevice releases a device so it can be paired again. Owner only; the
// device's sessions stop working immediately.
func (h *StatusHandler) UnpairDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	d, err := h.registry.GetDevice(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		internalError(w, h.logger, "get device", err)
		return
	}
	if d.MemberID != nil {
		m, err := h.registry.GetMember(ctx, *d.MemberID)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			internalError(w, h.logger, "get device member", err)
			return
		}
		if m != nil && m.HouseholdID != auth.HouseholdID(ctx) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
	}

	if err := h.registry.UnpairDevice(ctx, id); err != nil {
		internalError(w, h.logger, "unpair device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StatusHandler) RenameHousehold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	hh, err := h.registry.RenameHousehold(r.Context(), auth.HouseholdID(r.Context()), req.Name)
	switch {
	case errors.Is(err, registry.ErrInvalid):
		writeError(w, http.StatusBadRequest, "name is required")
		return
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "household not found")
		return
	case err != nil:
		internalError(w, h.logger, "rename household", err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}
