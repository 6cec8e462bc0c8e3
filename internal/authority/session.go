package authority

import (
	"context"
	"time"

	"github.com/dukerupert/homebase/internal/auth"
	"github.com/dukerupert/homebase/internal/model"
	"github.com/dukerupert/homebase/internal/store"
)

func (a *Authority) deviceExpiry(now time.Time) *time.Time {
	if a.cfg.DeviceSessionTTL <= 0 {
		return nil
	}
	exp := now.Add(a.cfg.DeviceSessionTTL)
	return &exp
}

func (a *Authority) mintSession(ctx context.Context, ns store.NewSession, now time.Time) (string, *model.Session, error) {
	raw, err := newToken()
	if err != nil {
		return "", nil, err
	}
	ns.TokenHash = store.HashToken(raw)
	sess, err := a.sessions.Create(ctx, ns, now)
	if err != nil {
		return "", nil, err
	}
	a.observe(KindSession, "issued")
	return raw, sess, nil
}

// IssueSession mints a session for sub. A zero ttl never expires.
func (a *Authority) IssueSession(ctx context.Context, sub auth.Subject, ttl time.Duration) (*model.Session, string, error) {
	ns := store.NewSession{HouseholdID: sub.HouseholdID}
	if sub.MemberID != 0 {
		id := sub.MemberID
		ns.MemberID = &id
	}
	if sub.DeviceID != "" {
		id := sub.DeviceID
		ns.DeviceID = &id
	}
	now := a.now()
	if ttl > 0 {
		exp := now.Add(ttl)
		ns.ExpiresAt = &exp
	}
	raw, sess, err := a.mintSession(ctx, ns, now)
	if err != nil {
		return nil, "", err
	}
	return sess, raw, nil
}

// VerifySessionToken resolves a bearer token to its subject. Unknown and
// expired tokens yield ErrUnauthorized.
func (a *Authority) VerifySessionToken(ctx context.Context, raw string) (auth.Subject, error) {
	if raw == "" {
		return auth.Subject{}, ErrUnauthorized
	}
	sess, err := a.sessions.GetValid(ctx, store.HashToken(raw), a.now())
	if err != nil {
		return auth.Subject{}, err
	}
	if sess == nil {
		a.observe(KindSession, "invalid")
		return auth.Subject{}, ErrUnauthorized
	}

	sub := auth.Subject{SessionID: sess.ID, HouseholdID: sess.HouseholdID}
	if sess.DeviceID != nil {
		sub.DeviceID = *sess.DeviceID
	}
	if sess.MemberID != nil {
		m, err := a.members.GetByID(ctx, *sess.MemberID)
		if err != nil {
			return auth.Subject{}, err
		}
		if m == nil {
			return auth.Subject{}, ErrUnauthorized
		}
		sub.MemberID = m.ID
		sub.Role = m.Role
	}
	return sub, nil
}

func (a *Authority) RevokeSession(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return a.sessions.DeleteByHash(ctx, store.HashToken(raw))
}

// PurgeExpired deletes credentials that can no longer verify. It is safe to
// skip: every check already compares against the clock.
func (a *Authority) PurgeExpired(ctx context.Context) (int64, error) {
	now := a.now()
	var total int64
	for _, purge := range []func(context.Context, time.Time) (int64, error){
		a.joins.DeleteDead,
		a.codes.DeleteDead,
		a.passcodes.DeleteDeadSetupTokens,
		a.sessions.DeleteExpired,
	} {
		n, err := purge(ctx, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		a.logger.Info("purged expired credentials", "count", total)
	}
	return total, nil
}
