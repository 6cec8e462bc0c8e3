// Package client polls a homebase device for its setup status, the way a
// kiosk or companion app keeps its cached onboarding state honest.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// SetupStatus is the body of GET /setup/status.
type SetupStatus struct {
	IsComplete bool      `json:"is_complete"`
	ResetAt    time.Time `json:"reset_at"`
	Epoch      int64     `json:"epoch"`
}

func (s SetupStatus) Equal(o SetupStatus) bool {
	return s.IsComplete == o.IsComplete && s.Epoch == o.Epoch && s.ResetAt.Equal(o.ResetAt)
}

// Config controls polling. Zero durations take defaults.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// Interval is the delay between successful polls.
	Interval time.Duration
	// MinBackoff and MaxBackoff bound the jittered exponential delay between
	// failed polls.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// LastResetAt is the reset_at the caller cached in a previous run, if
	// any. A different value on the first poll counts as a reset.
	LastResetAt time.Time
	// OnChange is called with every status that differs from the last.
	OnChange func(SetupStatus)
	// OnReset is called when the device was reset since the cached state
	// was built; the caller must drop it.
	OnReset func(SetupStatus)
}

type Poller struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	last *SetupStatus
}

func NewPoller(cfg Config, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(30*time.Second, cfg.MinBackoff)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poller{cfg: cfg, http: hc, logger: logger.With("component", "poller")}
}

// Last returns the most recent status seen, if any.
func (p *Poller) Last() (SetupStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return SetupStatus{}, false
	}
	return *p.last, true
}

// Fetch makes one request. Transport failures and 5xx responses are
// retryable; anything else is not.
func (p *Poller) Fetch(ctx context.Context) (SetupStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/setup/status", nil)
	if err != nil {
		return SetupStatus{}, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return SetupStatus{}, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		if resp.StatusCode >= 500 {
			return SetupStatus{}, retry.RetryableError(err)
		}
		return SetupStatus{}, err
	}

	var st SetupStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return SetupStatus{}, fmt.Errorf("decode setup status: %w", err)
	}
	return st, nil
}

func (p *Poller) backoff() retry.Backoff {
	b := retry.NewExponential(p.cfg.MinBackoff)
	b = retry.WithCappedDuration(p.cfg.MaxBackoff, b)
	return retry.WithJitterPercent(20, b)
}

// Poll fetches once, retrying with backoff until it succeeds, hits a
// non-retryable error or ctx ends, then records the result.
func (p *Poller) Poll(ctx context.Context) (SetupStatus, error) {
	var st SetupStatus
	attempt := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		st, err = p.Fetch(ctx)
		if err != nil && attempt > 1 {
			p.logger.Debug("setup status poll failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return SetupStatus{}, err
	}
	p.observe(st)
	return st, nil
}

func (p *Poller) observe(st SetupStatus) {
	p.mu.Lock()
	prev := p.last
	p.last = &st
	p.mu.Unlock()

	var reset bool
	switch {
	case prev != nil:
		reset = prev.Epoch != st.Epoch || !prev.ResetAt.Equal(st.ResetAt)
	case !p.cfg.LastResetAt.IsZero():
		reset = !p.cfg.LastResetAt.Equal(st.ResetAt)
	}

	if reset {
		p.logger.Info("device was reset", "epoch", st.Epoch, "reset_at", st.ResetAt)
		if p.cfg.OnReset != nil {
			p.cfg.OnReset(st)
		}
	}
	if (prev == nil || !prev.Equal(st)) && p.cfg.OnChange != nil {
		p.cfg.OnChange(st)
	}
}

// Run polls until ctx is cancelled and returns ctx's error. A poll that
// fails without being retryable, such as a 4xx or an undecodable body, is
// logged and tried again after MaxBackoff.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		next := p.cfg.Interval
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("setup status poll failed", "error", err, "retry_in", p.cfg.MaxBackoff)
			next = p.cfg.MaxBackoff
		}
		t.Reset(next)
	}
}
