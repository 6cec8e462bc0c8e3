package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/dukerupert/homebase/internal/authority"
	"github.com/dukerupert/homebase/internal/config"
	"github.com/dukerupert/homebase/internal/database"
	"github.com/dukerupert/homebase/internal/logging"
	"github.com/dukerupert/homebase/internal/metrics"
	"github.com/dukerupert/homebase/internal/middleware"
	"github.com/dukerupert/homebase/internal/netmode"
	"github.com/dukerupert/homebase/internal/registry"
	"github.com/dukerupert/homebase/internal/server"
	"github.com/dukerupert/homebase/internal/setup"
	"github.com/dukerupert/homebase/internal/store"
	ws "github.com/dukerupert/homebase/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("homebase", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("HOMEBASE_CONFIG"), "path to YAML config file")
	port := flags.String("port", "", "HTTP port (overrides config)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides config)")
	driver := flags.String("network-driver", "", "nmcli or fake (overrides config)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *driver != "" {
		cfg.Network.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	auth, err := authority.New(db, authority.Config{
		JoinTokenTTL:     cfg.Tokens.JoinTokenTTL,
		JoinTokenMaxTTL:  cfg.Tokens.JoinTokenMaxTTL,
		PairingCodeTTL:   cfg.Tokens.PairingCodeTTL,
		SetupTokenTTL:    cfg.Tokens.SetupTokenTTL,
		UnlockSessionTTL: cfg.Tokens.UnlockSessionTTL,
		DeviceSessionTTL: cfg.Tokens.DeviceSessionTTL,
	}, logger)
	if err != nil {
		return err
	}
	tracker := setup.NewTracker(db, logger)
	settings := store.NewSettingsStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	network, err := newNetwork(ctx, cfg, tracker, settings, logger)
	if err != nil {
		return err
	}
	defer network.Close()

	hub := ws.NewHub(logger)
	m := metrics.New()
	limiter := middleware.NewRateLimiter(rate.Every(cfg.Limits.Interval), cfg.Limits.Burst)
	m.GaugeFunc("homebase_websocket_clients", "Connected websocket clients", func() float64 {
		return float64(hub.ClientCount())
	})
	m.GaugeFunc("homebase_rate_limiter_keys", "Clients tracked by the rate limiter", func() float64 {
		return float64(limiter.Len())
	})

	srv := server.New(server.Deps{
		Authority: auth,
		Tracker:   tracker,
		Registry:  registry.New(db, logger),
		Settings:  settings,
		Network:   network,
		Hub:       hub,
		Metrics:   m,
		Limiter:   limiter,
	}, logger)

	if st, err := tracker.Status(ctx); err == nil {
		m.SetSetupState(st.IsComplete, st.Epoch)
	}
	m.SetNetworkMode(string(network.Status().Mode), false, false)

	// Bring the OS network in line with the persisted mode.
	go func() {
		ensureCtx, cancel := context.WithTimeout(ctx, cfg.Network.SwitchTimeout+10*time.Second)
		defer cancel()
		if st, err := network.Ensure(ensureCtx); err != nil {
			logger.Error("apply network mode at boot", "mode", st.Mode, "error", err)
		}
	}()

	go reap(ctx, cfg.Server.ReapInterval, auth, limiter, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("homebase starting", "addr", httpServer.Addr, "network_driver", cfg.Network.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newNetwork builds the controller in the mode the device should be in:
// normal once setup is complete and WiFi is known, setup otherwise.
func newNetwork(ctx context.Context, cfg *config.Config, tracker *setup.Tracker, settings *store.SettingsStore, logger *slog.Logger) (*netmode.Controller, error) {
	var nc netmode.NetworkController
	switch cfg.Network.Driver {
	case "fake":
		nc = netmode.NewFake()
	default:
		nc = netmode.NewNMCLI(cfg.Network.Interface, netmode.ExecRunner{})
	}

	st, err := tracker.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("read setup status: %w", err)
	}
	ssid, err := settings.Get(ctx, store.SettingWiFiSSID)
	if err != nil {
		return nil, err
	}
	password, err := settings.Get(ctx, store.SettingWiFiPassword)
	if err != nil {
		return nil, err
	}

	initial := netmode.ModeSetup
	if st.IsComplete && ssid != "" {
		initial = netmode.ModeNormal
	}
	ctrl := netmode.NewController(nc, netmode.Config{
		Hotspot: netmode.Hotspot{
			SSID:     cfg.Network.HotspotSSID,
			Password: cfg.Network.HotspotPassword,
		},
		SwitchTimeout: cfg.Network.SwitchTimeout,
		InitialMode:   initial,
	}, logger)

	if ssid != "" {
		if err := ctrl.SetWiFi(netmode.WiFiCredentials{SSID: ssid, Password: password}); err != nil {
			logger.Warn("stored wifi credentials rejected", "error", err)
		}
	}
	return ctrl, nil
}

// reap purges dead credentials and idle rate-limit buckets until ctx ends.
func reap(ctx context.Context, every time.Duration, auth *authority.Authority, limiter *middleware.RateLimiter, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := auth.PurgeExpired(ctx); err != nil {
				logger.Error("purge expired credentials", "error", err)
			}
			if n := limiter.Cleanup(time.Hour); n > 0 {
				logger.Debug("dropped idle rate limit buckets", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
