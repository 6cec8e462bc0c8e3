package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/authority"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/netmode"
	"github.com/dukerupert/homebase/internal/registry"
	"github.com/dukerupert/homebase/internal/setup"
	"github.com/dukerupert/homebase/internal/store"
)

const maxAgentNameLen = 64

// SetupHandler serves the onboarding wizard.
type SetupHandler struct {
	tracker   *setup.Tracker
	registry  *registry.Registry
	authority *authority.Authority
	settings  *store.SettingsStore
	network   *netmode.Controller
	logger    *slog.Logger
}

func NewSetupHandler(t *setup.Tracker, reg *registry.Registry, a *authority.Authority, ss *store.SettingsStore, nc *netmode.Controller, logger *slog.Logger) *SetupHandler {
	return &SetupHandler{tracker: t, registry: reg, authority: a, settings: ss, network: nc, logger: logger}
}

// IsComplete adapts the tracker for middleware.SetupOnly.
func (h *SetupHandler) IsComplete(ctx context.Context) (bool, error) {
	st, err := h.tracker.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.IsComplete, nil
}

// WiFiLocked closes the WiFi endpoints once setup is complete and the device
// has joined the home network. A device left on the hotspot by a failed join
// keeps them open so the credentials can be corrected and applied again.
func (h *SetupHandler) WiFiLocked(ctx context.Context) (bool, error) {
	complete, err := h.IsComplete(ctx)
	if err != nil || !complete {
		return false, err
	}
	return h.network.Status().Mode == netmode.ModeNormal, nil
}

// NetworkChanged clears the pending apply once the device is on the home
// network. A failed switch leaves it set so completing again retries.
func (h *SetupHandler) NetworkChanged(st netmode.Status) {
	if st.Mode != netmode.ModeNormal || st.Error != "" {
		return
	}
	if err := h.settings.Delete(context.Background(), store.SettingWiFiApplyPending); err != nil {
		h.logger.Error("clear wifi apply flag", "error", err)
	}
}

func (h *SetupHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.Status(r.Context())
	if err != nil {
		internalError(w, h.logger, "get setup status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *SetupHandler) SetWiFi(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	creds := netmode.WiFiCredentials{SSID: req.SSID, Password: req.Password}
	if err := h.network.SetWiFi(creds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.settings.SetMany(r.Context(), map[string]string{
		store.SettingWiFiSSID:     creds.SSID,
		store.SettingWiFiPassword: creds.Password,
	}); err != nil {
		internalError(w, h.logger, "save wifi settings", err)
		return
	}

	h.logger.Info("wifi configured", "ssid", creds.SSID)
	writeJSON(w, http.StatusOK, map[string]any{"ssid": creds.SSID, "configured": true})
}

func (h *SetupHandler) ScanWiFi(w http.ResponseWriter, r *http.Request) {
	networks, err := h.network.Scan(r.Context())
	if err != nil {
		h.logger.Warn("wifi scan failed", "error", err)
		writeError(w, http.StatusBadGateway, "wifi scan failed")
		return
	}
	if networks == nil {
		networks = []netmode.WiFiNetwork{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"networks": networks})
}

// ApplyWiFi requests the move to normal mode. The switch itself waits for
// setup to be marked complete, so here it is normally only recorded.
func (h *SetupHandler) ApplyWiFi(w http.ResponseWriter, r *http.Request) {
	if !h.network.WiFiConfigured() {
		writeError(w, http.StatusConflict, "wifi not configured")
		return
	}
	if err := h.settings.Set(r.Context(), store.SettingWiFiApplyPending, "1"); err != nil {
		internalError(w, h.logger, "save wifi apply flag", err)
		return
	}

	ns, started, err := h.applyIfReady(r.Context())
	if err != nil && !errors.Is(err, netmode.ErrSwitchInProgress) {
		internalError(w, h.logger, "apply wifi", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"pending": !started,
		"network": ns,
	})
}

// applyIfReady starts the switch to normal mode once WiFi has been applied
// and setup is complete. The pending flag stays set until NetworkChanged sees
// the switch succeed.
func (h *SetupHandler) applyIfReady(ctx context.Context) (netmode.Status, bool, error) {
	pending, err := h.settings.Get(ctx, store.SettingWiFiApplyPending)
	if err != nil {
		return h.network.Status(), false, err
	}
	if pending == "" {
		return h.network.Status(), false, nil
	}
	st, err := h.tracker.Status(ctx)
	if err != nil {
		return h.network.Status(), false, err
	}
	if !st.IsComplete {
		return h.network.Status(), false, nil
	}

	ns, err := h.network.Switch(ctx, netmode.ModeNormal)
	if err != nil {
		return ns, false, err
	}
	if ns.Mode == netmode.ModeNormal {
		// Already there, so no status change will clear the flag.
		return ns, true, h.settings.Delete(ctx, store.SettingWiFiApplyPending)
	}
	return ns, true, nil
}

type createHouseholdRequest struct {
	Name  string          `json:"name"`
	Owner model.NewMember `json:"owner"`
}

// CreateHousehold bootstraps the household and its owner, returning an owner
// session for the setup device and a setup token for the owner's passcode.
func (h *SetupHandler) CreateHousehold(w http.ResponseWriter, r *http.Request) {
	var req createHouseholdRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := authority.ValidateProfile(req.Owner.Profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	hh, owner, err := h.registry.CreateHousehold(ctx, req.Name, req.Owner)
	switch {
	case errors.Is(err, registry.ErrInvalid):
		writeError(w, http.StatusBadRequest, "household name and owner display_name are required")
		return
	case errors.Is(err, registry.ErrHouseholdExists):
		writeError(w, http.StatusConflict, "household already exists")
		return
	case err != nil:
		internalError(w, h.logger, "create household", err)
		return
	}

	sess, raw, err := h.authority.IssueSession(ctx, auth.Subject{
		HouseholdID: hh.ID,
		MemberID:    owner.ID,
		Role:        owner.Role,
	}, h.authority.Config().DeviceSessionTTL)
	if err != nil {
		internalError(w, h.logger, "issue owner session", err)
		return
	}
	setupToken, err := h.authority.IssueSetupToken(ctx, owner.ID)
	if err != nil {
		internalError(w, h.logger, "issue setup token", err)
		return
	}

	setSessionCookie(w, r, raw, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, map[string]any{
		"household":   hh,
		"owner":       owner,
		"token":       raw,
		"setup_token": setupToken,
	})
}

func (h *SetupHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID    string `json:"device_id"`
		Type        string `json:"type"`
		DisplayName string `json:"display_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.registry.RegisterDevice(r.Context(), req.DeviceID, req.Type, strings.TrimSpace(req.DisplayName))
	if errors.Is(err, registry.ErrInvalid) {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if err != nil {
		internalError(w, h.logger, "register device", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *SetupHandler) SetAgentName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxAgentNameLen {
		writeError(w, http.StatusBadRequest, "name must be 1-64 characters")
		return
	}
	if err := h.settings.Set(r.Context(), store.SettingAgentName, name); err != nil {
		internalError(w, h.logger, "save agent name", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_name": name})
}

// Complete marks onboarding done and starts a pending WiFi switch.
func (h *SetupHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.tracker.MarkComplete(ctx)
	if err != nil {
		internalError(w, h.logger, "mark setup complete", err)
		return
	}

	resp := map[string]any{"setup": st}
	ns, _, err := h.applyIfReady(ctx)
	resp["network"] = ns
	if err != nil {
		h.logger.Warn("network switch after setup not started", "error", err)
		resp["network_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reopen clears completion so the wizard can be walked again. Household,
// members and credentials are kept and the network is left as it is.
func (h *SetupHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	st, err := h.tracker.Reset(r.Context())
	if err != nil {
		internalError(w, h.logger, "reopen setup", err)
		return
	}
	h.logger.Info("setup reopened", "epoch", st.Epoch, "member_id", auth.MemberID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"setup": st})
}

// FactoryReset wipes household and credential data, bumps the reset epoch
// and returns the device to the setup hotspot, abandoning any switch to the
// home network that is still running.
func (h *SetupHandler) FactoryReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.tracker.FactoryReset(ctx)
	if err != nil {
		internalError(w, h.logger, "factory reset", err)
		return
	}
	resp := map[string]any{"setup": st}
	ns, err := h.network.Reset(ctx)
	resp["network"] = ns
	if err != nil {
		h.logger.Warn("switch to setup mode after reset not started", "error", err)
		resp["network_error"] = err.Error()
	}

	h.logger.Warn("factory reset", "epoch", st.Epoch)
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, resp)
}
