package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/homebase/internal/model"
)

func newMemberNamed(name string) model.NewMember {
	return model.NewMember{DisplayName: name}
}

func TestDeviceRegisterKeepsExisting(t *testing.T) {
	db := newTestDB(t)
	ds := NewDeviceStore(db)
	ctx := context.Background()

	if _, err := ds.Register(ctx, "d1", "kiosk", "Hall", testNow); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, err := ds.Register(ctx, "d1", "web", "Renamed", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if d.Type != "kiosk" || d.DisplayName != "Hall" {
		t.Errorf("device = %+v, want original type and name", d)
	}
}

func TestDeviceBindOnce(t *testing.T) {
	db := newTestDB(t)
	ds := NewDeviceStore(db)
	ms := NewMemberStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	other, err := ms.Create(ctx, h.ID, model.RoleMember, newMemberNamed("Other"), testNow)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if _, err := ds.Register(ctx, "d1", "web", "", testNow); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := bindDevice(ctx, db, "d1", owner.ID, testNow); err != nil {
		t.Fatalf("bind: %v", err)
	}
	d, err := ds.GetByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.PairedAt == nil {
		t.Error("expected paired_at")
	}

	if err := bindDevice(ctx, db, "d1", owner.ID, testNow); err != nil {
		t.Errorf("rebind same member: %v", err)
	}
	if err := bindDevice(ctx, db, "d1", other.ID, testNow); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("bind other member err = %v, want ErrAlreadyBound", err)
	}
	if err := bindDevice(ctx, db, "missing", owner.ID, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("bind missing err = %v, want ErrNotFound", err)
	}
}

func TestDeviceUnbindRevokesSessions(t *testing.T) {
	db := newTestDB(t)
	ds := NewDeviceStore(db)
	ss := NewSessionStore(db)
	ctx := context.Background()
	h, owner := seedHousehold(t, db)

	if _, err := ds.Register(ctx, "d1", "web", "", testNow); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := bindDevice(ctx, db, "d1", owner.ID, testNow); err != nil {
		t.Fatalf("bind: %v", err)
	}
	deviceID := "d1"
	if _, err := ss.Create(ctx, NewSession{
		TokenHash: HashToken("tok"), HouseholdID: h.ID, MemberID: &owner.ID, DeviceID: &deviceID,
	}, testNow); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := ds.Unbind(ctx, "d1"); err != nil {
		t.Fatalf("unbind: %v", err)
	}

	d, _ := ds.GetByID(ctx, "d1")
	if d.Paired() {
		t.Error("expected device unpaired")
	}
	sess, err := ss.GetValid(ctx, HashToken("tok"), testNow)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess != nil {
		t.Error("expected device session revoked")
	}

	if err := ds.Unbind(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unbind missing err = %v, want ErrNotFound", err)
	}
}
