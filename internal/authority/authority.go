// Package authority issues, verifies and consumes the household's
// credentials: join tokens, pairing codes, setup tokens, passcodes and
// session tokens.
package authority

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/homebase/internal/store"
)

type Config struct {
	JoinTokenTTL     time.Duration
	JoinTokenMaxTTL  time.Duration
	PairingCodeTTL   time.Duration
	SetupTokenTTL    time.Duration
	UnlockSessionTTL time.Duration
	// DeviceSessionTTL of zero issues paired-device sessions that never expire.
	DeviceSessionTTL time.Duration
	BcryptCost       int
}

func DefaultConfig() Config {
	return Config{
		JoinTokenTTL:     10 * time.Minute,
		JoinTokenMaxTTL:  24 * time.Hour,
		PairingCodeTTL:   5 * time.Minute,
		SetupTokenTTL:    time.Hour,
		UnlockSessionTTL: 12 * time.Hour,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// Observer is told about every credential operation. kind names the
// credential class and outcome is "issued", "ok" or a failure reason.
type Observer func(kind, outcome string)

const (
	KindJoinToken   = "join_token"
	KindPairingCode = "pairing_code"
	KindSetupToken  = "setup_token"
	KindPasscode    = "passcode"
	KindSession     = "session"
)

type Authority struct {
	households *store.HouseholdStore
	members    *store.MemberStore
	joins      *store.JoinTokenStore
	codes      *store.PairingCodeStore
	passcodes  *store.PasscodeStore
	sessions   *store.SessionStore

	cfg       Config
	dummyHash []byte
	logger    *slog.Logger
	now       func() time.Time
	observe   Observer
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Authority, error) {
	def := DefaultConfig()
	if cfg.JoinTokenTTL <= 0 {
		cfg.JoinTokenTTL = def.JoinTokenTTL
	}
	if cfg.JoinTokenMaxTTL <= 0 {
		cfg.JoinTokenMaxTTL = def.JoinTokenMaxTTL
	}
	if cfg.PairingCodeTTL <= 0 {
		cfg.PairingCodeTTL = def.PairingCodeTTL
	}
	if cfg.SetupTokenTTL <= 0 {
		cfg.SetupTokenTTL = def.SetupTokenTTL
	}
	if cfg.UnlockSessionTTL <= 0 {
		cfg.UnlockSessionTTL = def.UnlockSessionTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}

	// Compared against when a page or passcode is missing so that unlock
	// takes the same time either way.
	dummy, err := bcrypt.GenerateFromPassword([]byte("000000"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare passcode hasher: %w", err)
	}

	return &Authority{
		households: store.NewHouseholdStore(db),
		members:    store.NewMemberStore(db),
		joins:      store.NewJoinTokenStore(db),
		codes:      store.NewPairingCodeStore(db),
		passcodes:  store.NewPasscodeStore(db),
		sessions:   store.NewSessionStore(db),
		cfg:        cfg,
		dummyHash:  dummy,
		logger:     logger.With("component", "authority"),
		now:        time.Now,
		observe:    func(string, string) {},
	}, nil
}

// SetClock replaces the time source used for issuing and checking expiry.
func (a *Authority) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Authority) SetObserver(o Observer) {
	if o == nil {
		o = func(string, string) {}
	}
	a.observe = o
}

func (a *Authority) Config() Config {
	return a.cfg
}

// newToken returns 32 random bytes, hex encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// outcome names a store failure for the observer.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyConsumed), errors.Is(err, ErrAlreadyConfirmed):
		return "used"
	case errors.Is(err, ErrValidation):
		return "rejected"
	case IsCredentialError(err):
		return "invalid"
	default:
		return "error"
	}
}
