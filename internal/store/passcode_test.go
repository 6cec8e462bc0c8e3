package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasscodeSetWithSetupToken(t *testing.T) {
	db := newTestDB(t)
	ps := NewPasscodeStore(db)
	ctx := context.Background()
	_, owner := seedHousehold(t, db)

	tok := HashToken("setup")
	if err := ps.CreateSetupToken(ctx, tok, owner.ID, testNow.Add(time.Hour), testNow); err != nil {
		t.Fatalf("create setup token: %v", err)
	}

	hash, err := ps.GetHash(ctx, owner.ID)
	if err != nil {
		t.Fatalf("get hash: %v", err)
	}
	if hash != "" {
		t.Errorf("hash before set = %q, want empty", hash)
	}

	memberID, err := ps.SetWithSetupToken(ctx, tok, "hashed-1", testNow)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if memberID != owner.ID {
		t.Errorf("member id = %d, want %d", memberID, owner.ID)
	}
	if hash, _ := ps.GetHash(ctx, owner.ID); hash != "hashed-1" {
		t.Errorf("hash = %q, want hashed-1", hash)
	}

	if _, err := ps.SetWithSetupToken(ctx, tok, "hashed-2", testNow); !errors.Is(err, ErrUsed) {
		t.Errorf("reuse err = %v, want ErrUsed", err)
	}
	if hash, _ := ps.GetHash(ctx, owner.ID); hash != "hashed-1" {
		t.Errorf("hash after reuse = %q, want unchanged", hash)
	}
}

func TestPasscodeSetupTokenFailures(t *testing.T) {
	db := newTestDB(t)
	ps := NewPasscodeStore(db)
	ctx := context.Background()
	_, owner := seedHousehold(t, db)

	tok := HashToken("setup")
	if err := ps.CreateSetupToken(ctx, tok, owner.ID, testNow.Add(time.Hour), testNow); err != nil {
		t.Fatalf("create setup token: %v", err)
	}

	if _, err := ps.SetWithSetupToken(ctx, tok, "h", testNow.Add(time.Hour)); !errors.Is(err, ErrExpired) {
		t.Errorf("expired err = %v, want ErrExpired", err)
	}
	if _, err := ps.SetWithSetupToken(ctx, HashToken("nope"), "h", testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown err = %v, want ErrNotFound", err)
	}

	n, err := ps.DeleteDeadSetupTokens(ctx, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("delete dead: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}
