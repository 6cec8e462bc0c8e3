package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/homebase/internal/authority"
	"github.com/dukerupert/homebase/internal/handler"
	"github.com/dukerupert/homebase/internal/metrics"
	"github.com/dukerupert/homebase/internal/middleware"
	"github.com/dukerupert/homebase/internal/netmode"
	"github.com/dukerupert/homebase/internal/registry"
	"github.com/dukerupert/homebase/internal/setup"
	"github.com/dukerupert/homebase/internal/store"
	ws "github.com/dukerupert/homebase/internal/websocket"
)

// Deps are the long-lived components the HTTP surface binds together.
type Deps struct {
	Authority *authority.Authority
	Tracker   *setup.Tracker
	Registry  *registry.Registry
	Settings  *store.SettingsStore
	Network   *netmode.Controller
	Hub       *ws.Hub
	Metrics   *metrics.Metrics
	Limiter   *middleware.RateLimiter
}

type Server struct {
	deps      Deps
	setupH    *handler.SetupHandler
	pairH     *handler.PairHandler
	joinH     *handler.JoinHandler
	passcodeH *handler.PasscodeHandler
	statusH   *handler.StatusHandler
	logger    *slog.Logger
}

// New builds the HTTP surface and routes component state changes to
// websocket clients and metrics.
func New(d Deps, logger *slog.Logger) *Server {
	d.Authority.SetObserver(d.Metrics.ObserveCredential)
	d.Tracker.SetCallback(func(st setup.Status) {
		d.Metrics.SetSetupState(st.IsComplete, st.Epoch)
		d.Hub.Broadcast(ws.NewMessage(ws.TypeSetupStatus, st))
	})
	setupH := handler.NewSetupHandler(d.Tracker, d.Registry, d.Authority, d.Settings, d.Network, logger.With("component", "setup"))
	d.Network.SetCallback(func(st netmode.Status) {
		settled := st.Mode != netmode.ModeTransitioning
		d.Metrics.SetNetworkMode(string(st.Mode), settled && st.Error == "", settled && st.Error != "")
		setupH.NetworkChanged(st)
		d.Hub.Broadcast(ws.NewMessage(ws.TypeNetworkMode, st))
	})

	return &Server{
		deps:      d,
		setupH:    setupH,
		pairH:     handler.NewPairHandler(d.Authority, logger.With("component", "pair")),
		joinH:     handler.NewJoinHandler(d.Authority, logger.With("component", "join")),
		passcodeH: handler.NewPasscodeHandler(d.Authority, logger.With("component", "passcode")),
		statusH:   handler.NewStatusHandler(d.Tracker, d.Registry, d.Settings, d.Network, logger.With("component", "status")),
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.deps.Hub, s.snapshot))

	// Setup wizard
	setupOnly := middleware.SetupOnly(s.setupH.IsComplete)
	wifiOnly := middleware.SetupOnly(s.setupH.WiFiLocked)
	mux.HandleFunc("GET /setup/status", s.setupH.Status)
	mux.Handle("POST /setup/wifi", wifiOnly(http.HandlerFunc(s.setupH.SetWiFi)))
	mux.Handle("GET /setup/wifi/scan", wifiOnly(http.HandlerFunc(s.setupH.ScanWiFi)))
	mux.Handle("POST /setup/wifi/apply", wifiOnly(http.HandlerFunc(s.setupH.ApplyWiFi)))
	mux.Handle("POST /setup/household", setupOnly(http.HandlerFunc(s.setupH.CreateHousehold)))
	mux.Handle("POST /setup/device", setupOnly(http.HandlerFunc(s.setupH.RegisterDevice)))
	mux.Handle("POST /setup/agent-name", setupOnly(http.HandlerFunc(s.setupH.SetAgentName)))
	mux.HandleFunc("POST /setup/complete", s.setupH.Complete)
	mux.HandleFunc("POST /setup/factory-reset", s.setupH.FactoryReset)

	// Credentials. The secret is in the request body, so these are the
	// endpoints worth guessing against.
	session := middleware.RequireSession(s.deps.Authority)
	mux.Handle("POST /pair/start", middleware.Chain(http.HandlerFunc(s.pairH.Start), s.limit, session))
	mux.Handle("POST /pair/confirm", s.rateLimited(s.pairH.Confirm))
	mux.Handle("GET /api/join-token/verify", s.rateLimited(s.joinH.Verify))
	mux.Handle("POST /api/join-token/consume", s.rateLimited(s.joinH.Consume))
	mux.Handle("POST /setup/passcode", s.rateLimited(s.passcodeH.Set))
	mux.Handle("POST /unlock", s.rateLimited(s.passcodeH.Unlock))
	mux.HandleFunc("GET /api/pages/{name}", s.passcodeH.PageExists)

	owner := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, session, middleware.RequireOwner)
	}
	mux.Handle("GET /api/status", middleware.OptionalSession(s.deps.Authority)(http.HandlerFunc(s.statusH.Status)))
	mux.Handle("GET /api/members", session(http.HandlerFunc(s.statusH.Members)))
	mux.Handle("GET /api/devices", session(http.HandlerFunc(s.statusH.Devices)))
	mux.Handle("POST /api/logout", session(http.HandlerFunc(s.passcodeH.Logout)))
	mux.Handle("PUT /api/household", owner(s.statusH.RenameHousehold))
	mux.Handle("POST /api/join-token/create", owner(s.joinH.Create))
	mux.Handle("DELETE /api/devices/{id}", owner(s.statusH.UnpairDevice))
	mux.Handle("POST /api/setup/reset", owner(s.setupH.Reopen))

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.RequestLogger(s.logger.With("component", "http")),
		s.deps.Metrics.Middleware,
	)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return s.limit(h)
}

func (s *Server) limit(next http.Handler) http.Handler {
	onLimited := func(r *http.Request) {
		s.deps.Metrics.RateLimited(r.URL.Path)
		s.logger.Warn("rate limited", "path", r.URL.Path, "remote", middleware.RemoteIP(r))
	}
	return middleware.RateLimit(s.deps.Limiter, middleware.RemoteIP, onLimited)(next)
}

// snapshot gives a new websocket client the current setup and network state.
func (s *Server) snapshot(ctx context.Context) []ws.Message {
	msgs := []ws.Message{ws.NewMessage(ws.TypeNetworkMode, s.deps.Network.Status())}
	st, err := s.deps.Tracker.Status(ctx)
	if err != nil {
		s.logger.Error("websocket snapshot", "error", err)
		return msgs
	}
	return append([]ws.Message{ws.NewMessage(ws.TypeSetupStatus, st)}, msgs...)
}
