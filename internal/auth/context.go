package auth

import (
	"context"

	"github.com/dukerupert/homebase/internal/model"
)

type contextKey struct{}

// Subject is who a verified session token speaks for. MemberID is zero for a
// device that has not been bound to a member; DeviceID is empty for a
// passcode unlock session.
type Subject struct {
	SessionID   int64
	HouseholdID int64
	MemberID    int64
	DeviceID    string
	Role        string
}

func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(contextKey{}).(Subject)
	return s, ok
}

func HouseholdID(ctx context.Context) int64 {
	s, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return s.HouseholdID
}

func MemberID(ctx context.Context) int64 {
	s, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return s.MemberID
}

func IsOwner(ctx context.Context) bool {
	s, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return s.Role == model.RoleOwner
}
