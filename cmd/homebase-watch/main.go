// Command homebase-watch follows a homebase device's setup status and logs
// every change, flagging resets that invalidate cached onboarding state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dukerupert/homebase/internal/client"
	"github.com/dukerupert/homebase/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("homebase-watch", pflag.ContinueOnError)
	url := flags.String("url", "http://homebase.local:8080", "device base URL")
	interval := flags.Duration("interval", 5*time.Second, "delay between polls")
	maxBackoff := flags.Duration("max-backoff", 30*time.Second, "longest delay after a failed poll")
	lastReset := flags.String("last-reset", "", "reset_at (RFC 3339) from a previous run")
	logLevel := flags.String("log-level", "info", "debug, info, warn or error")
	logFormat := flags.String("log-format", "text", "text or json")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var cached time.Time
	if *lastReset != "" {
		t, err := time.Parse(time.RFC3339Nano, *lastReset)
		if err != nil {
			return fmt.Errorf("--last-reset: %w", err)
		}
		cached = t
	}

	logger := logging.Setup(*logLevel, *logFormat)

	p := client.NewPoller(client.Config{
		BaseURL:     *url,
		Interval:    *interval,
		MaxBackoff:  *maxBackoff,
		LastResetAt: cached,
		OnChange: func(st client.SetupStatus) {
			logger.Info("setup status", "is_complete", st.IsComplete, "epoch", st.Epoch, "reset_at", st.ResetAt.Format(time.RFC3339Nano))
		},
		OnReset: func(st client.SetupStatus) {
			logger.Warn("device was reset, cached state is stale", "epoch", st.Epoch)
		},
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watching device", "url", *url, "interval", *interval)
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
