package store

import (
	"context"
	"testing"
)

func TestSettingsGetSetDelete(t *testing.T) {
	db := newTestDB(t)
	s := NewSettingsStore(db)
	ctx := context.Background()

	v, err := s.Get(ctx, SettingWiFiSSID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "" {
		t.Errorf("unset = %q, want empty", v)
	}

	if err := s.SetMany(ctx, map[string]string{
		SettingWiFiSSID:     "HomeNet",
		SettingWiFiPassword: "secret",
	}); err != nil {
		t.Fatalf("set many: %v", err)
	}
	if err := s.Set(ctx, SettingWiFiSSID, "OtherNet"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := s.Get(ctx, SettingWiFiSSID); v != "OtherNet" {
		t.Errorf("ssid = %q, want OtherNet", v)
	}

	if err := s.Delete(ctx, SettingWiFiPassword); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := s.Get(ctx, SettingWiFiPassword); v != "" {
		t.Errorf("deleted value = %q, want empty", v)
	}
}
