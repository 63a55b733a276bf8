package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	SettingCalendarSyncEnabled   = "calendar_sync_enabled"
	SettingCalendarLastSyncAt    = "calendar_last_sync_at"
	SettingCalendarLastSyncError = "calendar_last_sync_error"
	SettingCalendarLastSuccessAt = "calendar_last_success_at"
)

var calendarSyncKeys = []string{
	SettingCalendarSyncEnabled,
	SettingCalendarLastSyncAt,
	SettingCalendarLastSyncError,
	SettingCalendarLastSuccessAt,
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(householdID int64, key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE household_id = ? AND key = ?`, householdID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) GetAll(householdID int64) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE household_id = ? ORDER BY key`, householdID)
	if err != nil {
		return nil, fmt.Errorf("get all settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *SettingsStore) Set(householdID int64, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (household_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(household_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		householdID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) GetCalendarSyncSettings(householdID int64) (map[string]string, error) {
	settings := make(map[string]string)
	for _, key := range calendarSyncKeys {
		var value string
		err := s.db.QueryRow(`SELECT value FROM settings WHERE household_id = ? AND key = ?`, householdID, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get calendar sync setting %q: %w", key, err)
		}
		settings[key] = value
	}
	return settings, nil
}

// LastSync returns the completion time and error message of the household's
// last calendar sync. A household that never synced returns the zero time.
func (s *SettingsStore) LastSync(householdID int64) (time.Time, string, error) {
	settings, err := s.GetCalendarSyncSettings(householdID)
	if err != nil {
		return time.Time{}, "", err
	}
	var at time.Time
	if raw := settings[SettingCalendarLastSyncAt]; raw != "" {
		at, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("parse last sync time: %w", err)
		}
	}
	return at, settings[SettingCalendarLastSyncError], nil
}

// SetLastSync records a completed calendar sync.
func (s *SettingsStore) SetLastSync(householdID int64, at time.Time, syncErr string) error {
	if err := s.Set(householdID, SettingCalendarLastSyncAt, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return s.Set(householdID, SettingCalendarLastSyncError, syncErr)
}

// LastSuccess returns the completion time of the household's last calendar
// sync that finished without failures, or the zero time if none did.
func (s *SettingsStore) LastSuccess(householdID int64) (time.Time, error) {
	settings, err := s.GetCalendarSyncSettings(householdID)
	if err != nil {
		return time.Time{}, err
	}
	raw := settings[SettingCalendarLastSuccessAt]
	if raw == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last success time: %w", err)
	}
	return at, nil
}

func (s *SettingsStore) SetLastSuccess(householdID int64, at time.Time) error {
	return s.Set(householdID, SettingCalendarLastSuccessAt, at.UTC().Format(time.RFC3339Nano))
}

// SyncEnabled reports whether the periodic timer may sync the household.
// Missing or unparseable values count as enabled.
func (s *SettingsStore) SyncEnabled(householdID int64) (bool, error) {
	settings, err := s.GetCalendarSyncSettings(householdID)
	if err != nil {
		return false, err
	}
	return settings[SettingCalendarSyncEnabled] != "false", nil
}
