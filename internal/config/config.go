// Package config loads homebase configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// HOMEBASE_* environment variables, then command-line flags applied by the
// caller. Later sources win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Network  NetworkConfig  `yaml:"network"`
	Tokens   TokenConfig    `yaml:"tokens"`
	Limits   LimitConfig    `yaml:"limits"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// ReapInterval is how often expired credentials are purged.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NetworkConfig selects and configures the NetworkController.
type NetworkConfig struct {
	// Driver is "nmcli" on the appliance or "fake" for development.
	Driver          string        `yaml:"driver"`
	Interface       string        `yaml:"interface"`
	HotspotSSID     string        `yaml:"hotspot_ssid"`
	HotspotPassword string        `yaml:"hotspot_password"`
	SwitchTimeout   time.Duration `yaml:"switch_timeout"`
}

type TokenConfig struct {
	JoinTokenTTL     time.Duration `yaml:"join_token_ttl"`
	JoinTokenMaxTTL  time.Duration `yaml:"join_token_max_ttl"`
	PairingCodeTTL   time.Duration `yaml:"pairing_code_ttl"`
	SetupTokenTTL    time.Duration `yaml:"setup_token_ttl"`
	UnlockSessionTTL time.Duration `yaml:"unlock_session_ttl"`
	// DeviceSessionTTL of zero means paired-device sessions never expire.
	DeviceSessionTTL time.Duration `yaml:"device_session_ttl"`
}

// LimitConfig is the per-client budget on credential endpoints: Burst
// attempts, refilled one every Interval.
type LimitConfig struct {
	Burst    int           `yaml:"burst"`
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
			ReapInterval:    time.Hour,
		},
		Database: DatabaseConfig{Path: "homebase.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Network: NetworkConfig{
			Driver:        "nmcli",
			Interface:     "wlan0",
			HotspotSSID:   "homebase-setup",
			SwitchTimeout: 90 * time.Second,
		},
		Tokens: TokenConfig{
			JoinTokenTTL:     10 * time.Minute,
			JoinTokenMaxTTL:  24 * time.Hour,
			PairingCodeTTL:   5 * time.Minute,
			SetupTokenTTL:    time.Hour,
			UnlockSessionTTL: 12 * time.Hour,
		},
		Limits: LimitConfig{Burst: 10, Interval: 6 * time.Second},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HOMEBASE_PORT", &c.Server.Port)
	str("HOMEBASE_DB_PATH", &c.Database.Path)
	str("HOMEBASE_LOG_LEVEL", &c.Log.Level)
	str("HOMEBASE_LOG_FORMAT", &c.Log.Format)
	str("HOMEBASE_NETWORK_DRIVER", &c.Network.Driver)
	str("WIFI_INTERFACE", &c.Network.Interface)
	str("HOMEBASE_HOTSPOT_SSID", &c.Network.HotspotSSID)
	str("HOMEBASE_HOTSPOT_PASSWORD", &c.Network.HotspotPassword)

	if err := dur("HOMEBASE_SWITCH_TIMEOUT", &c.Network.SwitchTimeout); err != nil {
		return err
	}
	if err := dur("HOMEBASE_JOIN_TOKEN_TTL", &c.Tokens.JoinTokenTTL); err != nil {
		return err
	}
	if err := dur("HOMEBASE_PAIRING_CODE_TTL", &c.Tokens.PairingCodeTTL); err != nil {
		return err
	}
	if v, ok := lookup("HOMEBASE_RATE_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOMEBASE_RATE_BURST: %w", err)
		}
		c.Limits.Burst = n
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	switch c.Network.Driver {
	case "nmcli":
		if c.Network.Interface == "" {
			errs = append(errs, errors.New("network.interface is required for the nmcli driver"))
		}
	case "fake":
	default:
		errs = append(errs, fmt.Errorf("network.driver %q must be nmcli or fake", c.Network.Driver))
	}
	if n := len(c.Network.HotspotSSID); n < 1 || n > 32 {
		errs = append(errs, errors.New("network.hotspot_ssid must be 1-32 bytes"))
	}
	if p := c.Network.HotspotPassword; p != "" && (len(p) < 8 || len(p) > 63) {
		errs = append(errs, errors.New("network.hotspot_password must be empty or 8-63 characters"))
	}
	if c.Network.SwitchTimeout <= 0 {
		errs = append(errs, errors.New("network.switch_timeout must be positive"))
	}
	if c.Tokens.JoinTokenTTL <= 0 || c.Tokens.PairingCodeTTL <= 0 || c.Tokens.SetupTokenTTL <= 0 || c.Tokens.UnlockSessionTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Tokens.JoinTokenMaxTTL < c.Tokens.JoinTokenTTL {
		errs = append(errs, errors.New("tokens.join_token_max_ttl must be at least join_token_ttl"))
	}
	if c.Tokens.DeviceSessionTTL < 0 {
		errs = append(errs, errors.New("tokens.device_session_ttl must not be negative"))
	}
	if c.Limits.Burst < 1 || c.Limits.Interval <= 0 {
		errs = append(errs, errors.New("limits.burst and limits.interval must be positive"))
	}
	return errors.Join(errs...)
}
