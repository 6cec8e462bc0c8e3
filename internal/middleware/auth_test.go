package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/homebase/internal/auth"
)

type stubVerifier map[string]auth.Subject

func (s stubVerifier) VerifySessionToken(ctx context.Context, raw string) (auth.Subject, error) {
	sub, ok := s[raw]
	if !ok {
		return auth.Subject{}, errors.New("unauthorized")
	}
	return sub, nil
}

var verifier = stubVerifier{
	"owner-token":  {SessionID: 1, HouseholdID: 1, MemberID: 1, Role: "owner"},
	"member-token": {SessionID: 2, HouseholdID: 1, MemberID: 2, Role: "member"},
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	if got := BearerToken(req); got != "abc" {
		t.Errorf("header token = %q, want abc", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})
	if got := BearerToken(req); got != "from-cookie" {
		t.Errorf("cookie token = %q, want from-cookie", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := BearerToken(req); got != "" {
		t.Errorf("basic auth token = %q, want empty", got)
	}
}

func TestRequireSession(t *testing.T) {
	var got auth.Subject
	handler := RequireSession(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer member-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rec.Code)
	}
	if got.MemberID != 2 {
		t.Errorf("subject member = %d, want 2", got.MemberID)
	}
}

func TestRequireOwner(t *testing.T) {
	handler := RequireSession(verifier)(RequireOwner(http.HandlerFunc(okHandler)))

	for token, want := range map[string]int{
		"owner-token":  http.StatusOK,
		"member-token": http.StatusForbidden,
		"bogus":        http.StatusUnauthorized,
	} {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", token, rec.Code, want)
		}
	}
}

func TestOptionalSession(t *testing.T) {
	var hasSubject bool
	handler := OptionalSession(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSubject = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || hasSubject {
		t.Errorf("bogus token: status = %d, subject = %v", rec.Code, hasSubject)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer owner-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !hasSubject {
		t.Error("expected subject for valid token")
	}
}

func TestSetupOnly(t *testing.T) {
	complete := false
	handler := SetupOnly(func(context.Context) (bool, error) { return complete, nil })(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/setup/wifi", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("during setup: status = %d, want 200", rec.Code)
	}

	complete = true
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/setup/wifi", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("after setup: status = %d, want 403", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
	}

	const inbound = "6f1c2d3e-4b5a-4c6d-8e7f-0a1b2c3d4e5f"
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, inbound)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != inbound {
		t.Errorf("id = %q, want inbound %q", seen, inbound)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "not a uuid\nX-Injected: 1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not a uuid\nX-Injected: 1" {
		t.Error("malformed inbound id must be replaced")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(http.HandlerFunc(okHandler), mw("a"), mw("b")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
}
