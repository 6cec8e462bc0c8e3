package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createCode(t *testing.T, ps *PairingCodeStore, npc NewPairingCode) string {
	t.Helper()
	pc, err := ps.Create(context.Background(), npc, testNow)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	if len(pc.Code) != 6 {
		t.Fatalf("code %q is not 6 digits", pc.Code)
	}
	return pc.Code
}

func TestPairingCodeConfirm(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	code := createCode(t, ps, NewPairingCode{
		HouseholdID: h.ID, DeviceID: "d1", DeviceType: "kiosk", DisplayName: "Kitchen",
		MemberID: owner.ID, ExpiresAt: testNow.Add(5 * time.Minute),
	})

	res, err := ps.Confirm(ctx, code, "d1", HashToken("sess-1"), nil, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.MemberID != owner.ID {
		t.Errorf("member = %d, want owner %d", res.MemberID, owner.ID)
	}
	if res.Session.DeviceID == nil || *res.Session.DeviceID != "d1" {
		t.Errorf("session device = %v, want d1", res.Session.DeviceID)
	}

	d, err := NewDeviceStore(db).GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if d == nil || !d.Paired() || *d.MemberID != owner.ID {
		t.Errorf("device = %+v, want bound to owner", d)
	}

	_, err = ps.Confirm(ctx, code, "d1", HashToken("sess-2"), nil, testNow.Add(2*time.Minute))
	if !errors.Is(err, ErrUsed) {
		t.Errorf("second confirm err = %v, want ErrUsed", err)
	}

	var sessions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 1 {
		t.Errorf("sessions = %d, want 1", sessions)
	}
}

func TestPairingCodeConfirmFailures(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	code := createCode(t, ps, NewPairingCode{
		HouseholdID: h.ID, DeviceID: "d1", DeviceType: "web",
		MemberID: owner.ID, ExpiresAt: testNow.Add(5 * time.Minute),
	})

	if _, err := ps.Confirm(ctx, code, "other", HashToken("s"), nil, testNow); !errors.Is(err, ErrMismatch) {
		t.Errorf("wrong device err = %v, want ErrMismatch", err)
	}
	if _, err := ps.Confirm(ctx, code, "d1", HashToken("s"), nil, testNow.Add(5*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Errorf("expired err = %v, want ErrExpired", err)
	}
	if _, err := ps.Confirm(ctx, "000000", "d1", HashToken("s"), nil, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown err = %v, want ErrNotFound", err)
	}
}

func TestPairingCodeRetiresPreviousForDevice(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	npc := NewPairingCode{HouseholdID: h.ID, DeviceID: "d1", MemberID: owner.ID, ExpiresAt: testNow.Add(5 * time.Minute)}
	first := createCode(t, ps, npc)
	second := createCode(t, ps, npc)
	if first == second {
		t.Skip("random codes collided")
	}

	if _, err := ps.Confirm(ctx, first, "d1", HashToken("a"), nil, testNow); !errors.Is(err, ErrExpired) {
		t.Errorf("retired code err = %v, want ErrExpired", err)
	}
	if _, err := ps.Confirm(ctx, second, "d1", HashToken("b"), nil, testNow); err != nil {
		t.Errorf("latest code: %v", err)
	}
}

func TestPairingCodeDeviceAlreadyBound(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ms := NewMemberStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	other, err := ms.Create(ctx, h.ID, "member", newMemberNamed("Other"), testNow)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if _, err := NewDeviceStore(db).Register(ctx, "d1", "web", "", testNow); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bindDevice(ctx, db, "d1", owner.ID, testNow); err != nil {
		t.Fatalf("bind: %v", err)
	}

	code := createCode(t, ps, NewPairingCode{
		HouseholdID: h.ID, DeviceID: "d1", MemberID: other.ID, ExpiresAt: testNow.Add(5 * time.Minute),
	})
	if _, err := ps.Confirm(ctx, code, "d1", HashToken("s"), nil, testNow); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("err = %v, want ErrAlreadyBound", err)
	}

	var confirmed bool
	if err := db.QueryRow(`SELECT confirmed FROM pairing_codes WHERE code = ?`, code).Scan(&confirmed); err != nil {
		t.Fatalf("read code: %v", err)
	}
	if confirmed {
		t.Error("failed confirmation must roll back the confirmed flag")
	}
}

func TestPairingCodeAttemptBound(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	code := createCode(t, ps, NewPairingCode{
		HouseholdID: h.ID, DeviceID: "d1", MemberID: owner.ID, ExpiresAt: testNow.Add(5 * time.Minute),
	})
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}

	for i := range MaxConfirmAttempts - 1 {
		if _, err := ps.Confirm(ctx, wrong, "d1", HashToken("s"), nil, testNow); !errors.Is(err, ErrNotFound) {
			t.Fatalf("miss %d err = %v, want ErrNotFound", i+1, err)
		}
	}
	// A right code from the wrong device is a miss too.
	if _, err := ps.Confirm(ctx, code, "d2", HashToken("s"), nil, testNow); !errors.Is(err, ErrMismatch) {
		t.Fatalf("wrong device err = %v, want ErrMismatch", err)
	}

	var attempts int
	if err := db.QueryRow(`SELECT attempts FROM pairing_codes WHERE code = ?`, code).Scan(&attempts); err != nil {
		t.Fatalf("read attempts: %v", err)
	}
	if attempts != MaxConfirmAttempts {
		t.Errorf("attempts = %d, want %d", attempts, MaxConfirmAttempts)
	}
	if _, err := ps.Confirm(ctx, code, "d1", HashToken("s"), nil, testNow); !errors.Is(err, ErrExpired) {
		t.Errorf("exhausted code err = %v, want ErrExpired", err)
	}
}

func TestPairingCodeMissesBelowBound(t *testing.T) {
	db := newTestDB(t)
	ps := NewPairingCodeStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	code := createCode(t, ps, NewPairingCode{
		HouseholdID: h.ID, DeviceID: "d1", MemberID: owner.ID, ExpiresAt: testNow.Add(5 * time.Minute),
	})
	wrong := "000000"
	if code == wrong {
		wrong = "999999"
	}
	for range MaxConfirmAttempts - 1 {
		ps.Confirm(ctx, wrong, "d1", HashToken("s"), nil, testNow)
	}
	if _, err := ps.Confirm(ctx, code, "d1", HashToken("s"), nil, testNow); err != nil {
		t.Errorf("confirm below the bound: %v", err)
	}
}
