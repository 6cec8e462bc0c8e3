package netmode

import (
	"context"
	"sync"
)

// Fake is an in-memory NetworkController. It records calls and can be made
// to fail or hang.
type Fake struct {
	mu          sync.Mutex
	setupCalls  int
	normalCalls int
	setupErr    error
	normalErr   error
	gate        chan struct{}
	ignoreCtx   bool
	reach       Reachability
	networks    []WiFiNetwork
	lastWiFi    WiFiCredentials
}

func NewFake() *Fake {
	return &Fake{
		reach: Reachability{IP: "192.168.4.1", Hostname: "homebase.local"},
	}
}

func (f *Fake) SetErrors(setupErr, normalErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupErr, f.normalErr = setupErr, normalErr
}

// Hold makes subsequent mode changes block until Release. With ignoreCtx
// they also ignore cancellation, like a wedged OS command.
func (f *Fake) Hold(ignoreCtx bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.ignoreCtx = ignoreCtx
}

func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *Fake) SetReachability(r Reachability) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reach = r
}

func (f *Fake) SetNetworks(n []WiFiNetwork) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = n
}

// Calls returns how many times each mode was entered.
func (f *Fake) Calls() (setup, normal int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setupCalls, f.normalCalls
}

func (f *Fake) LastWiFi() WiFiCredentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastWiFi
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	gate, ignore := f.gate, f.ignoreCtx
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	if ignore {
		<-gate
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) EnterSetupMode(ctx context.Context, hs Hotspot) error {
	f.mu.Lock()
	f.setupCalls++
	err := f.setupErr
	f.mu.Unlock()
	if werr := f.wait(ctx); werr != nil {
		return werr
	}
	return err
}

func (f *Fake) EnterNormalMode(ctx context.Context, creds WiFiCredentials) error {
	f.mu.Lock()
	f.normalCalls++
	f.lastWiFi = creds
	err := f.normalErr
	f.mu.Unlock()
	if werr := f.wait(ctx); werr != nil {
		return werr
	}
	return err
}

func (f *Fake) Info(ctx context.Context) (Reachability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reach, nil
}

func (f *Fake) Scan(ctx context.Context) ([]WiFiNetwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WiFiNetwork, len(f.networks))
	copy(out, f.networks)
	return out, nil
}
