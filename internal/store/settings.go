package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

const (
	settingsPrefix    = "settings:value:"
	legacySettingsKey = "settings"
)

// settingsFieldNames lists every persisted settings field.
var settingsFieldNames = []string{
	"calendar_href",
	"calendar_name",
	"calendar_color",
	"calendar_timezone",
	"date_only_timezone",
	"full_sync_interval_minutes",
	"last_full_sync",
	"notion_sync_token",
	"caldav_sync_token",
	"webhook_verification_token",
}

// Settings are the persisted runtime settings, one key per field.
type Settings struct {
	CalendarHref             string `json:"calendar_href"`
	CalendarName             string `json:"calendar_name"`
	CalendarColor            string `json:"calendar_color"`
	CalendarTimezone         string `json:"calendar_timezone"`
	DateOnlyTimezone         string `json:"date_only_timezone"`
	FullSyncIntervalMinutes  int    `json:"full_sync_interval_minutes"`
	LastFullSync             string `json:"last_full_sync"`
	NotionSyncToken          string `json:"notion_sync_token"`
	CalDAVSyncToken          string `json:"caldav_sync_token"`
	WebhookVerificationToken string `json:"webhook_verification_token"`
}

// LoadSettings merges all settings:value:* keys into a Settings value.
// A legacy monolithic settings blob is split into per-field keys on first
// access. Individual read failures are logged and treated as absent.
func (s *Store) LoadSettings() *Settings {
	s.migrateLegacySettings()

	settings := &Settings{}
	settings.CalendarHref = s.settingString("calendar_href")
	settings.CalendarName = s.settingString("calendar_name")
	settings.CalendarColor = s.settingString("calendar_color")
	settings.CalendarTimezone = s.settingString("calendar_timezone")
	settings.DateOnlyTimezone = s.settingString("date_only_timezone")
	settings.FullSyncIntervalMinutes = s.settingInt("full_sync_interval_minutes")
	settings.LastFullSync = s.settingString("last_full_sync")
	settings.NotionSyncToken = s.settingString("notion_sync_token")
	settings.CalDAVSyncToken = s.settingString("caldav_sync_token")
	settings.WebhookVerificationToken = s.settingString("webhook_verification_token")
	return settings
}

// SaveSettings persists every settings field.
func (s *Store) SaveSettings(settings *Settings) error {
	fields := map[string]any{
		"calendar_href":              settings.CalendarHref,
		"calendar_name":              settings.CalendarName,
		"calendar_color":             settings.CalendarColor,
		"calendar_timezone":          settings.CalendarTimezone,
		"date_only_timezone":         settings.DateOnlyTimezone,
		"full_sync_interval_minutes": settings.FullSyncIntervalMinutes,
		"last_full_sync":             settings.LastFullSync,
		"notion_sync_token":          settings.NotionSyncToken,
		"caldav_sync_token":          settings.CalDAVSyncToken,
		"webhook_verification_token": settings.WebhookVerificationToken,
	}
	for name, value := range fields {
		if err := s.SetSetting(name, value); err != nil {
			return err
		}
	}
	return nil
}

// SetSetting persists one settings field as JSON.
func (s *Store) SetSetting(field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", field, err)
	}
	return s.Put(settingsPrefix+field, string(raw))
}

// GetSettingString reads one string-valued settings field.
// Absence and read failures both report ok=false.
func (s *Store) GetSettingString(field string) (string, bool) {
	raw, err := s.Get(settingsPrefix + field)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[store] failed to read setting %s: %v", field, err)
		}
		return "", false
	}
	var value string
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Printf("[store] failed to decode setting %s: %v", field, err)
		return "", false
	}
	return value, true
}

func (s *Store) settingString(field string) string {
	value, _ := s.GetSettingString(field)
	return value
}

func (s *Store) settingInt(field string) int {
	raw, err := s.Get(settingsPrefix + field)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[store] failed to read setting %s: %v", field, err)
		}
		return 0
	}
	var value int
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Printf("[store] failed to decode setting %s: %v", field, err)
		return 0
	}
	return value
}

// migrateLegacySettings splits a monolithic settings blob into per-field
// keys and deletes the blob. Runs at most once per stored blob.
func (s *Store) migrateLegacySettings() {
	raw, err := s.Get(legacySettingsKey)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("[store] failed to read legacy settings blob: %v", err)
		return
	}

	var blob map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		log.Printf("[store] failed to decode legacy settings blob: %v", err)
		return
	}

	for _, name := range settingsFieldNames {
		value, ok := blob[name]
		if !ok {
			continue
		}
		if err := s.Put(settingsPrefix+name, string(value)); err != nil {
			log.Printf("[store] failed to migrate setting %s: %v", name, err)
			return
		}
	}

	if err := s.Delete(legacySettingsKey); err != nil {
		log.Printf("[store] failed to delete legacy settings blob: %v", err)
	}
}
