package store

import (
	"testing"
	"time"
)

func setupSettingsTestDB(t *testing.T) *SettingsStore {
	t.Helper()
	return NewSettingsStore(openTestDB(t))
}

func TestSettingsSeedData(t *testing.T) {
	ss := setupSettingsTestDB(t)

	settings, err := ss.GetCalendarSyncSettings(1)
	if err != nil {
		t.Fatalf("get calendar sync settings: %v", err)
	}

	expected := map[string]string{
		SettingCalendarSyncEnabled:   "true",
		SettingCalendarLastSyncAt:    "",
		SettingCalendarLastSyncError: "",
		SettingCalendarLastSuccessAt: "",
	}

	for key, want := range expected {
		got, ok := settings[key]
		if !ok {
			t.Errorf("missing calendar sync setting %q", key)
			continue
		}
		if got != want {
			t.Errorf("setting %q = %q, want %q", key, got, want)
		}
	}
}

func TestSettingsGetAndSet(t *testing.T) {
	ss := setupSettingsTestDB(t)

	if err := ss.Set(1, "timezone", "America/Denver"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := ss.Get(1, "timezone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "America/Denver" {
		t.Errorf("timezone = %q, want %q", val, "America/Denver")
	}

	if err := ss.Set(1, "timezone", "UTC"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, _ = ss.Get(1, "timezone")
	if val != "UTC" {
		t.Errorf("timezone = %q, want UTC", val)
	}
}

func TestSettingsGetNotFound(t *testing.T) {
	ss := setupSettingsTestDB(t)

	if _, err := ss.Get(1, "nonexistent_key"); err == nil {
		t.Error("expected error for nonexistent key")
	}
}

func TestSettingsScopedToHousehold(t *testing.T) {
	ss := setupSettingsTestDB(t)
	if _, err := ss.db.Exec("INSERT INTO households (id, name) VALUES (2, 'Other')"); err != nil {
		t.Fatalf("insert household: %v", err)
	}

	if err := ss.Set(2, SettingCalendarSyncEnabled, "false"); err != nil {
		t.Fatalf("set: %v", err)
	}

	all, err := ss.GetAll(1)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if all[SettingCalendarSyncEnabled] != "true" {
		t.Errorf("household 1 sync enabled = %q, want true", all[SettingCalendarSyncEnabled])
	}

	enabled, err := ss.SyncEnabled(2)
	if err != nil {
		t.Fatalf("sync enabled: %v", err)
	}
	if enabled {
		t.Error("household 2 sync should be disabled")
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	ss := setupSettingsTestDB(t)

	at, msg, err := ss.LastSync(1)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !at.IsZero() || msg != "" {
		t.Errorf("fresh household last sync = %v %q, want zero", at, msg)
	}

	when := time.Date(2026, 3, 1, 12, 30, 15, 500, time.UTC)
	if err := ss.SetLastSync(1, when, "1 calendar failed"); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	at, msg, err = ss.LastSync(1)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !at.Equal(when) {
		t.Errorf("last sync at = %v, want %v", at, when)
	}
	if msg != "1 calendar failed" {
		t.Errorf("last sync error = %q", msg)
	}
}

func TestLastSuccessIsSeparateFromLastSync(t *testing.T) {
	ss := setupSettingsTestDB(t)

	at, err := ss.LastSuccess(1)
	if err != nil {
		t.Fatalf("last success: %v", err)
	}
	if !at.IsZero() {
		t.Errorf("fresh household last success = %v, want zero", at)
	}

	ok := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := ss.SetLastSuccess(1, ok); err != nil {
		t.Fatalf("set last success: %v", err)
	}
	failed := ok.Add(2 * time.Hour)
	if err := ss.SetLastSync(1, failed, "1 auth_expired"); err != nil {
		t.Fatalf("set last sync: %v", err)
	}

	at, err = ss.LastSuccess(1)
	if err != nil {
		t.Fatalf("last success: %v", err)
	}
	if !at.Equal(ok) {
		t.Errorf("last success = %v, want %v", at, ok)
	}
	last, msg, err := ss.LastSync(1)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !last.Equal(failed) || msg != "1 auth_expired" {
		t.Errorf("last sync = %v %q, want %v with error", last, msg, failed)
	}
}

func TestLastSyncMissingHousehold(t *testing.T) {
	ss := setupSettingsTestDB(t)

	at, _, err := ss.LastSync(42)
	if err != nil {
		t.Fatalf("last sync: %v", err)
	}
	if !at.IsZero() {
		t.Errorf("last sync = %v, want zero", at)
	}
	enabled, err := ss.SyncEnabled(42)
	if err != nil {
		t.Fatalf("sync enabled: %v", err)
	}
	if !enabled {
		t.Error("missing setting should default to enabled")
	}
}
