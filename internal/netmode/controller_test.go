package netmode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestController(t *testing.T, fake *Fake, cfg Config) *Controller {
	t.Helper()
	if cfg.Hotspot.SSID == "" {
		cfg.Hotspot = Hotspot{SSID: "homebase-setup", Password: "homebase123"}
	}
	c := NewController(fake, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		fake.Release()
		c.Close()
	})
	return c
}

func awaitSwitch(t *testing.T, c *Controller) (Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("switch did not finish")
	}
	return st, err
}

func TestSwitchToCurrentModeIsNoop(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{})

	st, err := c.Switch(context.Background(), ModeSetup)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup", st.Mode)
	}
	if setup, normal := fake.Calls(); setup != 0 || normal != 0 {
		t.Errorf("calls = %d/%d, want none", setup, normal)
	}
}

func TestSwitchToNormal(t *testing.T) {
	fake := NewFake()
	fake.SetReachability(Reachability{SSID: "HomeNet", IP: "10.0.0.7", Hostname: "homebase.local"})
	c := newTestController(t, fake, Config{})

	var mu sync.Mutex
	var seen []Mode
	c.SetCallback(func(s Status) {
		mu.Lock()
		seen = append(seen, s.Mode)
		mu.Unlock()
	})

	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet", Password: "correct-horse"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}
	st, err := c.Switch(context.Background(), ModeNormal)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if st.Mode != ModeTransitioning || st.Target != ModeNormal || st.PreviousStable != ModeSetup {
		t.Errorf("immediate status = %+v", st)
	}

	st, err = awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Mode != ModeNormal || st.IP != "10.0.0.7" || st.SSID != "HomeNet" {
		t.Errorf("final status = %+v", st)
	}
	if fake.LastWiFi().SSID != "HomeNet" {
		t.Errorf("joined %q, want HomeNet", fake.LastWiFi().SSID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != ModeTransitioning || seen[1] != ModeNormal {
		t.Errorf("callback modes = %v", seen)
	}
}

func TestSwitchWhileTransitioning(t *testing.T) {
	fake := NewFake()
	fake.Hold(false)
	c := newTestController(t, fake, Config{})
	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}

	if _, err := c.Switch(context.Background(), ModeNormal); err != nil {
		t.Fatalf("switch: %v", err)
	}

	// Asking again for the mode already being switched to is a no-op.
	st, err := c.Switch(context.Background(), ModeNormal)
	if err != nil {
		t.Errorf("switch to in-flight target err = %v, want nil", err)
	}
	if st.Mode != ModeTransitioning || st.Target != ModeNormal {
		t.Errorf("status = %+v, want in-flight switch to normal", st)
	}

	st, err = c.Switch(context.Background(), ModeSetup)
	if !errors.Is(err, ErrSwitchInProgress) {
		t.Errorf("switch to setup while transitioning err = %v, want ErrSwitchInProgress", err)
	}
	if st.Mode != ModeTransitioning || st.Target != ModeNormal {
		t.Errorf("status = %+v, want in-flight switch to normal", st)
	}

	fake.Release()
	st, err = awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Mode != ModeNormal {
		t.Errorf("mode = %q, want normal", st.Mode)
	}
	if setup, normal := fake.Calls(); setup != 0 || normal != 1 {
		t.Errorf("calls = %d/%d, want 0/1", setup, normal)
	}
}

func TestSwitchFailureRevertsToPreviousMode(t *testing.T) {
	fake := NewFake()
	fake.SetErrors(nil, errors.New("association rejected"))
	c := newTestController(t, fake, Config{})
	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet", Password: "wrong-password"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}

	if _, err := c.Switch(context.Background(), ModeNormal); err != nil {
		t.Fatalf("switch: %v", err)
	}
	st, err := awaitSwitch(t, c)
	if !errors.Is(err, ErrNetworkSwitchFailed) {
		t.Fatalf("err = %v, want ErrNetworkSwitchFailed", err)
	}
	if st.Mode != ModeSetup || st.Error == "" {
		t.Errorf("status = %+v, want setup with error", st)
	}

	// Retry after fixing the credentials.
	fake.SetErrors(nil, nil)
	if _, err := c.Switch(context.Background(), ModeNormal); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st, err = awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("retry await: %v", err)
	}
	if st.Mode != ModeNormal || st.Error != "" {
		t.Errorf("status = %+v, want normal without error", st)
	}
}

func TestSwitchWatchdog(t *testing.T) {
	fake := NewFake()
	fake.Hold(true)
	c := newTestController(t, fake, Config{SwitchTimeout: 50 * time.Millisecond})
	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}

	if _, err := c.Switch(context.Background(), ModeNormal); err != nil {
		t.Fatalf("switch: %v", err)
	}
	st, err := awaitSwitch(t, c)
	if !errors.Is(err, ErrNetworkSwitchTimeout) {
		t.Fatalf("err = %v, want ErrNetworkSwitchTimeout", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup after timeout", st.Mode)
	}

	// The wedged command finishing late must not change the mode.
	fake.Release()
	time.Sleep(20 * time.Millisecond)
	if got := c.Status().Mode; got != ModeSetup {
		t.Errorf("mode after late result = %q, want setup", got)
	}
}

func TestSwitchToNormalWithoutWiFi(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{})

	if c.WiFiConfigured() {
		t.Fatal("expected no wifi")
	}
	st, err := c.Switch(context.Background(), ModeNormal)
	if !errors.Is(err, ErrWiFiNotConfigured) {
		t.Errorf("err = %v, want ErrWiFiNotConfigured", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup", st.Mode)
	}
	if _, err := c.Switch(context.Background(), Mode("bogus")); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("bogus mode err = %v, want ErrUnknownMode", err)
	}
}

func TestResetFromNormal(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{InitialMode: ModeNormal})
	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}

	if _, err := c.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if c.WiFiConfigured() {
		t.Error("wifi credentials survived reset")
	}
	st, err := awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Mode != ModeSetup || st.SSID != "homebase-setup" {
		t.Errorf("status = %+v, want setup on hotspot", st)
	}
	if setup, _ := fake.Calls(); setup != 1 {
		t.Errorf("setup calls = %d, want 1", setup)
	}
}

func TestEnsure(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{})

	st, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup", st.Mode)
	}
	if setup, _ := fake.Calls(); setup != 1 {
		t.Errorf("setup calls = %d, want 1", setup)
	}
}

func TestEnsureNormalWithoutWiFiFallsBack(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{InitialMode: ModeNormal})

	st, err := c.Ensure(context.Background())
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup", st.Mode)
	}
}

func TestWiFiCredentialsValidate(t *testing.T) {
	tests := []struct {
		creds WiFiCredentials
		valid bool
	}{
		{WiFiCredentials{SSID: "Home"}, true},
		{WiFiCredentials{SSID: "Home", Password: "12345678"}, true},
		{WiFiCredentials{SSID: ""}, false},
		{WiFiCredentials{SSID: "Home", Password: "short"}, false},
		{WiFiCredentials{SSID: "0123456789012345678901234567890123"}, false},
	}
	for _, tt := range tests {
		err := tt.creds.Validate()
		if tt.valid != (err == nil) {
			t.Errorf("Validate(%+v) = %v, want valid=%v", tt.creds, err, tt.valid)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("normal"); err != nil || m != ModeNormal {
		t.Errorf("ParseMode(normal) = %q, %v", m, err)
	}
	if _, err := ParseMode("transitioning"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseMode(transitioning) err = %v, want ErrUnknownMode", err)
	}
}

func TestResetAbortsInFlightSwitch(t *testing.T) {
	fake := NewFake()
	fake.Hold(false)
	c := newTestController(t, fake, Config{})
	if err := c.SetWiFi(WiFiCredentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("set wifi: %v", err)
	}
	if _, err := c.Switch(context.Background(), ModeNormal); err != nil {
		t.Fatalf("switch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st.Mode != ModeTransitioning || st.Target != ModeSetup {
		t.Errorf("status after reset = %+v, want switch to setup", st)
	}
	if c.WiFiConfigured() {
		t.Error("wifi credentials survived reset")
	}

	fake.Release()
	st, err = awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Mode != ModeSetup || st.SSID != "homebase-setup" {
		t.Errorf("final status = %+v, want setup hotspot", st)
	}
	if setup, normal := fake.Calls(); setup != 1 || normal != 1 {
		t.Errorf("calls = %d/%d, want 1/1", setup, normal)
	}
}

func TestResetReappliesHotspot(t *testing.T) {
	fake := NewFake()
	c := newTestController(t, fake, Config{})

	if _, err := c.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, err := awaitSwitch(t, c)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if st.Mode != ModeSetup {
		t.Errorf("mode = %q, want setup", st.Mode)
	}
	if setup, _ := fake.Calls(); setup != 1 {
		t.Errorf("setup calls = %d, want 1", setup)
	}
}
