package netmode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status struct {
	Mode           Mode      `json:"mode"`
	Target         Mode      `json:"target,omitempty"`
	PreviousStable Mode      `json:"previous_stable,omitempty"`
	SSID           string    `json:"ssid,omitempty"`
	IP             string    `json:"ip,omitempty"`
	Hostname       string    `json:"hostname,omitempty"`
	Error          string    `json:"error,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

// StatusCallback is called after every status change, outside the lock.
type StatusCallback func(Status)

type Config struct {
	Hotspot       Hotspot
	SwitchTimeout time.Duration
	InfoTimeout   time.Duration
	// InitialMode is the stable mode assumed at start, before Ensure.
	InitialMode Mode
}

// Controller owns the device-global network mode. At most one switch runs at
// a time; a request for a different mode arriving while one is in flight is
// rejected, not queued. Reset is the exception: it aborts the in-flight switch.
type Controller struct {
	net    NetworkController
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	status   Status
	wifi     *WiFiCredentials
	inFlight bool
	target   Mode
	abort    context.CancelFunc
	done     chan struct{}
	lastErr  error
	callback StatusCallback
}

func NewController(nc NetworkController, cfg Config, logger *slog.Logger) *Controller {
	if cfg.SwitchTimeout <= 0 {
		cfg.SwitchTimeout = 90 * time.Second
	}
	if cfg.InfoTimeout <= 0 {
		cfg.InfoTimeout = 5 * time.Second
	}
	if cfg.InitialMode != ModeNormal {
		cfg.InitialMode = ModeSetup
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		net:    nc,
		cfg:    cfg,
		logger: logger.With("component", "netmode"),
		now:    time.Now,
		base:   base,
		cancel: cancel,
	}
	c.status = Status{Mode: cfg.InitialMode, ChangedAt: c.now()}
	if cfg.InitialMode == ModeSetup {
		c.status.SSID = cfg.Hotspot.SSID
	}
	return c
}

func (c *Controller) SetCallback(cb StatusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetWiFi stores the credentials used for the next switch to normal mode.
func (c *Controller) SetWiFi(creds WiFiCredentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.wifi = &creds
	c.mu.Unlock()
	return nil
}

func (c *Controller) WiFiConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wifi != nil
}

// Switch starts a transition to target and returns without waiting for it.
// Requesting the current stable mode, or the mode an in-flight switch is
// already heading to, is a no-op that returns the current status. Any other
// request while a switch is in flight returns ErrSwitchInProgress and the
// in-flight switch is left alone. The switch outlives ctx; it is bounded by
// the configured switch timeout instead.
func (c *Controller) Switch(ctx context.Context, target Mode) (Status, error) {
	if target != ModeSetup && target != ModeNormal {
		return c.Status(), fmt.Errorf("%w: %q", ErrUnknownMode, target)
	}

	c.mu.Lock()
	if c.inFlight {
		st, heading := c.status, c.target
		c.mu.Unlock()
		if heading == target {
			return st, nil
		}
		return st, ErrSwitchInProgress
	}
	if c.status.Mode == target {
		st := c.status
		c.mu.Unlock()
		return st, nil
	}
	var creds WiFiCredentials
	if target == ModeNormal {
		if c.wifi == nil {
			st := c.status
			c.mu.Unlock()
			return st, ErrWiFiNotConfigured
		}
		creds = *c.wifi
	}

	return c.start(target, creds), nil
}

// start begins a transition to target. Caller holds mu; start releases it.
func (c *Controller) start(target Mode, creds WiFiCredentials) Status {
	prev := c.status.Mode
	ctx, done := c.begin(target)
	c.status = Status{
		Mode:           ModeTransitioning,
		Target:         target,
		PreviousStable: prev,
		ChangedAt:      c.now(),
	}
	st, cb := c.status, c.callback
	c.mu.Unlock()

	c.logger.Info("network switch started", "from", prev, "to", target)
	if cb != nil {
		cb(st)
	}

	go c.run(ctx, prev, target, creds, done)
	return st
}

// begin marks a switch to target in flight. Caller holds mu.
func (c *Controller) begin(target Mode) (context.Context, chan struct{}) {
	ctx, cancel := context.WithTimeout(c.base, c.cfg.SwitchTimeout)
	c.inFlight = true
	c.target = target
	c.abort = cancel
	c.done = make(chan struct{})
	return ctx, c.done
}

// Await blocks until no switch is in flight and returns the resulting status
// together with the outcome of the last switch.
func (c *Controller) Await(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if !c.inFlight {
		st, err := c.status, c.lastErr
		c.mu.Unlock()
		return st, err
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Ensure re-applies the current stable mode and waits for it. It is meant
// for boot, when the OS network state may not match the persisted mode.
func (c *Controller) Ensure(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.inFlight {
		st := c.status
		c.mu.Unlock()
		return st, ErrSwitchInProgress
	}
	mode := c.status.Mode
	var creds WiFiCredentials
	if mode == ModeNormal {
		if c.wifi == nil {
			c.mu.Unlock()
			// Without credentials the only reachable mode is setup.
			if _, err := c.forceSetup(); err != nil {
				return c.Status(), err
			}
			return c.Await(ctx)
		}
		creds = *c.wifi
	}
	switchCtx, done := c.begin(mode)
	c.mu.Unlock()

	c.logger.Info("ensuring network mode", "mode", mode)
	go c.run(switchCtx, mode, mode, creds, done)
	return c.Await(ctx)
}

// Reset forgets the WiFi credentials, aborts any in-flight switch and brings
// the setup hotspot up again, even if the device already reports setup mode.
// It returns once the switch to setup mode has started.
func (c *Controller) Reset(ctx context.Context) (Status, error) {
	c.mu.Lock()
	c.wifi = nil
	for c.inFlight {
		done, abort, target := c.done, c.abort, c.target
		c.mu.Unlock()

		c.logger.Warn("aborting network switch for reset", "target", target)
		abort()
		select {
		case <-done:
		case <-ctx.Done():
			return c.Status(), ctx.Err()
		}
		c.mu.Lock()
	}
	return c.start(ModeSetup, WiFiCredentials{}), nil
}

func (c *Controller) forceSetup() (Status, error) {
	return c.Switch(context.Background(), ModeSetup)
}

func (c *Controller) Scan(ctx context.Context) ([]WiFiNetwork, error) {
	return c.net.Scan(ctx)
}

// Close aborts any in-flight switch.
func (c *Controller) Close() {
	c.cancel()
}

func (c *Controller) run(ctx context.Context, prev, target Mode, creds WiFiCredentials, done chan struct{}) {
	// Buffered so a command that outlives the watchdog can still finish and
	// exit; its result is dropped.
	result := make(chan error, 1)
	go func() {
		result <- c.apply(ctx, target, creds)
	}()

	var err error
	select {
	case err = <-result:
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %v", ErrNetworkSwitchTimeout, c.cfg.SwitchTimeout, err)
			} else {
				err = fmt.Errorf("%w: %v", ErrNetworkSwitchFailed, err)
			}
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrNetworkSwitchTimeout, c.cfg.SwitchTimeout)
		} else {
			err = fmt.Errorf("%w: %v", ErrNetworkSwitchFailed, ctx.Err())
		}
	}

	var reach Reachability
	if err == nil {
		reach = c.reachability(target)
	}

	c.mu.Lock()
	if err == nil {
		c.status = Status{
			Mode:      target,
			SSID:      reach.SSID,
			IP:        reach.IP,
			Hostname:  reach.Hostname,
			ChangedAt: c.now(),
		}
	} else {
		c.status = Status{
			Mode:      prev,
			SSID:      c.status.SSID,
			IP:        c.status.IP,
			Hostname:  c.status.Hostname,
			Error:     err.Error(),
			ChangedAt: c.now(),
		}
		if c.status.SSID == "" && prev == ModeSetup {
			c.status.SSID = c.cfg.Hotspot.SSID
		}
	}
	c.lastErr = err
	c.inFlight = false
	c.target = ""
	cancel := c.abort
	c.abort = nil
	st, cb := c.status, c.callback
	c.mu.Unlock()
	cancel()

	if err != nil {
		c.logger.Error("network switch failed", "from", prev, "to", target, "error", err)
	} else {
		c.logger.Info("network switch complete", "mode", target, "ip", reach.IP, "ssid", reach.SSID)
	}
	if cb != nil {
		cb(st)
	}
	close(done)
}

func (c *Controller) apply(ctx context.Context, target Mode, creds WiFiCredentials) error {
	if target == ModeSetup {
		return c.net.EnterSetupMode(ctx, c.cfg.Hotspot)
	}
	return c.net.EnterNormalMode(ctx, creds)
}

func (c *Controller) reachability(mode Mode) Reachability {
	ctx, cancel := context.WithTimeout(c.base, c.cfg.InfoTimeout)
	defer cancel()

	reach, err := c.net.Info(ctx)
	if err != nil {
		c.logger.Warn("read network info", "error", err)
	}
	if mode == ModeSetup {
		reach.SSID = c.cfg.Hotspot.SSID
	}
	return reach
}
