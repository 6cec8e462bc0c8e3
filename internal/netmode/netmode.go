// Package netmode drives the device between its onboarding hotspot and
// normal WiFi operation.
package netmode

import (
	"context"
	"errors"
	"fmt"
)

type Mode string

const (
	ModeSetup         Mode = "setup"
	ModeTransitioning Mode = "transitioning"
	ModeNormal        Mode = "normal"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSetup, ModeNormal:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

var (
	ErrSwitchInProgress     = errors.New("network switch already in progress")
	ErrNetworkSwitchTimeout = errors.New("network switch timed out")
	ErrNetworkSwitchFailed  = errors.New("network switch failed")
	ErrWiFiNotConfigured    = errors.New("wifi credentials not configured")
	ErrInvalidWiFi          = errors.New("invalid wifi credentials")
	ErrUnknownMode          = errors.New("unknown network mode")
)

type Hotspot struct {
	SSID     string
	Password string
}

type WiFiCredentials struct {
	SSID     string
	Password string
}

// Validate applies the 802.11 SSID length limit and the WPA passphrase
// length rules. An empty password means an open network.
func (w WiFiCredentials) Validate() error {
	if n := len(w.SSID); n == 0 || n > 32 {
		return fmt.Errorf("%w: ssid must be 1 to 32 bytes", ErrInvalidWiFi)
	}
	if n := len(w.Password); n != 0 && (n < 8 || n > 63) {
		return fmt.Errorf("%w: password must be 8 to 63 characters", ErrInvalidWiFi)
	}
	return nil
}

// Reachability is how clients find the device on the current network.
type Reachability struct {
	SSID     string `json:"ssid,omitempty"`
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

type WiFiNetwork struct {
	SSID     string `json:"ssid"`
	Signal   int    `json:"signal"`
	Security string `json:"security,omitempty"`
}

// NetworkController performs the OS-level network changes. Implementations
// may be slow; callers bound them with ctx.
type NetworkController interface {
	EnterSetupMode(ctx context.Context, hs Hotspot) error
	EnterNormalMode(ctx context.Context, creds WiFiCredentials) error
	Info(ctx context.Context) (Reachability, error)
	Scan(ctx context.Context) ([]WiFiNetwork, error)
}
