package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary test store.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "notiondavsync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open test store: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(tempDir)
	}

	return s, cleanup
}

func TestKVOperations(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	t.Run("get missing key returns ErrNotFound", func(t *testing.T) {
		_, err := s.Get("missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put then get round-trips", func(t *testing.T) {
		if err := s.Put("alpha", `"one"`); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		value, err := s.Get("alpha")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if value != `"one"` {
			t.Errorf("expected %q, got %q", `"one"`, value)
		}
	})

	t.Run("put overwrites existing value", func(t *testing.T) {
		if err := s.Put("alpha", `"two"`); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		value, err := s.Get("alpha")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if value != `"two"` {
			t.Errorf("expected %q, got %q", `"two"`, value)
		}
	})

	t.Run("delete removes key", func(t *testing.T) {
		if err := s.Delete("alpha"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := s.Get("alpha"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("delete missing key is not an error", func(t *testing.T) {
		if err := s.Delete("never-existed"); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})
}

func TestListPagination(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	keys := []string{"item:a", "item:b", "item:c", "item:d", "item:e"}
	for _, k := range keys {
		if err := s.Put(k, `"v"`); err != nil {
			t.Fatalf("failed to put %s: %v", k, err)
		}
	}
	// Neighbors outside the prefix must never appear.
	if err := s.Put("item", `"bare"`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}
	if err := s.Put("itemz", `"after"`); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	t.Run("paginates in key order", func(t *testing.T) {
		var got []string
		cursor := ""
		for {
			page, next, err := s.List("item:", cursor, 2)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			for _, e := range page {
				got = append(got, e.Key)
			}
			if next == "" {
				break
			}
			cursor = next
		}
		if len(got) != len(keys) {
			t.Fatalf("expected %d keys, got %d (%v)", len(keys), len(got), got)
		}
		for i, k := range keys {
			if got[i] != k {
				t.Errorf("position %d: expected %s, got %s", i, k, got[i])
			}
		}
	})

	t.Run("ListAll drains every page", func(t *testing.T) {
		entries, err := s.ListAll("item:")
		if err != nil {
			t.Fatalf("failed to list all: %v", err)
		}
		if len(entries) != len(keys) {
			t.Fatalf("expected %d entries, got %d", len(keys), len(entries))
		}
	})
}

func TestSettingsRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	settings := &Settings{
		CalendarHref:             "/calendars/user/tray/",
		CalendarName:             "[N] Catch-all Tray",
		CalendarColor:            "#FF7F00",
		CalendarTimezone:         "Europe/Berlin",
		DateOnlyTimezone:         "Asia/Shanghai",
		FullSyncIntervalMinutes:  30,
		LastFullSync:             "2025-06-01T10:00:00Z",
		NotionSyncToken:          "2025-06-01T09:00:00Z",
		CalDAVSyncToken:          "https://example.com/sync/42",
		WebhookVerificationToken: "secret-token",
	}
	if err := s.SaveSettings(settings); err != nil {
		t.Fatalf("failed to save settings: %v", err)
	}

	loaded := s.LoadSettings()
	if *loaded != *settings {
		t.Errorf("loaded settings differ:\n got %+v\nwant %+v", loaded, settings)
	}
}

func TestSetSettingPreservesOtherFields(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.SetSetting("webhook_verification_token", "keep-me"); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}
	if err := s.SetSetting("calendar_href", "/calendars/user/tray/"); err != nil {
		t.Fatalf("failed to set href: %v", err)
	}

	loaded := s.LoadSettings()
	if loaded.WebhookVerificationToken != "keep-me" {
		t.Errorf("expected webhook token preserved, got %q", loaded.WebhookVerificationToken)
	}
	if loaded.CalendarHref != "/calendars/user/tray/" {
		t.Errorf("expected calendar href, got %q", loaded.CalendarHref)
	}
}

func TestLegacySettingsMigration(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	legacy := map[string]any{
		"calendar_href":              "/calendars/user/legacy/",
		"calendar_name":              "Legacy Tray",
		"full_sync_interval_minutes": 45,
		"webhook_verification_token": "legacy-token",
	}
	raw, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("failed to marshal legacy blob: %v", err)
	}
	if err := s.Put("settings", string(raw)); err != nil {
		t.Fatalf("failed to seed legacy blob: %v", err)
	}

	loaded := s.LoadSettings()
	if loaded.CalendarHref != "/calendars/user/legacy/" {
		t.Errorf("expected migrated href, got %q", loaded.CalendarHref)
	}
	if loaded.CalendarName != "Legacy Tray" {
		t.Errorf("expected migrated name, got %q", loaded.CalendarName)
	}
	if loaded.FullSyncIntervalMinutes != 45 {
		t.Errorf("expected migrated interval 45, got %d", loaded.FullSyncIntervalMinutes)
	}
	if loaded.WebhookVerificationToken != "legacy-token" {
		t.Errorf("expected migrated token, got %q", loaded.WebhookVerificationToken)
	}

	// The blob is deleted after the split.
	if _, err := s.Get("settings"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected legacy blob deleted, got %v", err)
	}

	// Split fields survive a second load.
	again := s.LoadSettings()
	if again.CalendarHref != "/calendars/user/legacy/" {
		t.Errorf("expected href after migration, got %q", again.CalendarHref)
	}
}

func TestMappingLifecycle(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	rec := &MappingRecord{
		NotionPageID:     "11111111-2222-3333-4444-555555555555",
		CalDAVUID:        "notion-11111111-2222-3333-4444-555555555555@sync",
		CalDAVETag:       `"etag-1"`,
		NotionHash:       "hash-a",
		CalDAVHash:       "hash-a",
		NotionLastEdited: "2025-06-01T10:00:00Z",
		LastSyncTime:     "2025-06-01T10:00:05Z",
	}

	t.Run("save mints sync id", func(t *testing.T) {
		if err := s.SaveMapping(rec); err != nil {
			t.Fatalf("failed to save mapping: %v", err)
		}
		if rec.SyncID == "" {
			t.Fatal("expected SyncID to be minted")
		}
	})

	t.Run("lookup by notion id", func(t *testing.T) {
		got, err := s.MappingByNotionID(rec.NotionPageID)
		if err != nil {
			t.Fatalf("failed to look up by notion id: %v", err)
		}
		if got.SyncID != rec.SyncID {
			t.Errorf("expected sync id %s, got %s", rec.SyncID, got.SyncID)
		}
	})

	t.Run("lookup by caldav uid", func(t *testing.T) {
		got, err := s.MappingByCalDAVUID(rec.CalDAVUID)
		if err != nil {
			t.Fatalf("failed to look up by caldav uid: %v", err)
		}
		if got.NotionPageID != rec.NotionPageID {
			t.Errorf("expected page id %s, got %s", rec.NotionPageID, got.NotionPageID)
		}
	})

	t.Run("list returns the record", func(t *testing.T) {
		records, err := s.ListMappings()
		if err != nil {
			t.Fatalf("failed to list mappings: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 mapping, got %d", len(records))
		}
	})

	t.Run("delete removes record and indices", func(t *testing.T) {
		if err := s.DeleteMapping(rec); err != nil {
			t.Fatalf("failed to delete mapping: %v", err)
		}
		if _, err := s.MappingByNotionID(rec.NotionPageID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound by notion id, got %v", err)
		}
		if _, err := s.MappingByCalDAVUID(rec.CalDAVUID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound by caldav uid, got %v", err)
		}
		if _, err := s.MappingBySyncID(rec.SyncID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound by sync id, got %v", err)
		}
	})
}

func TestDanglingIndexCleanup(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	rec := &MappingRecord{
		NotionPageID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		CalDAVUID:    "notion-aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee@sync",
	}
	if err := s.SaveMapping(rec); err != nil {
		t.Fatalf("failed to save mapping: %v", err)
	}

	// Drop the record but leave the indices behind.
	if err := s.Delete("mapping:record:" + rec.SyncID); err != nil {
		t.Fatalf("failed to delete record key: %v", err)
	}

	if _, err := s.MappingByNotionID(rec.NotionPageID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for dangling index, got %v", err)
	}

	// The stray index is cleaned up.
	if _, err := s.Get("mapping:index:notion:" + rec.NotionPageID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stray index deleted, got %v", err)
	}
}

func TestSyncLog(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	old := &PassRecord{
		Trigger:   "scheduled",
		StartedAt: time.Now().UTC().Add(-40 * 24 * time.Hour).Format(time.RFC3339),
		Counters:  map[string]int{"noop": 3},
	}
	recent := &PassRecord{
		Trigger:   "manual",
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		Counters:  map[string]int{"synced": 2, "errors": 1},
	}
	if err := s.AppendSyncLog(old); err != nil {
		t.Fatalf("failed to append old record: %v", err)
	}
	if err := s.AppendSyncLog(recent); err != nil {
		t.Fatalf("failed to append recent record: %v", err)
	}

	t.Run("recent returns newest first", func(t *testing.T) {
		records, err := s.RecentSyncLogs(10)
		if err != nil {
			t.Fatalf("failed to list sync logs: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].Trigger != "manual" {
			t.Errorf("expected newest first, got trigger %q", records[0].Trigger)
		}
	})

	t.Run("prune removes old records", func(t *testing.T) {
		pruned, err := s.PruneSyncLogs(time.Now().UTC().Add(-30 * 24 * time.Hour))
		if err != nil {
			t.Fatalf("failed to prune: %v", err)
		}
		if pruned != 1 {
			t.Fatalf("expected 1 pruned, got %d", pruned)
		}
		records, err := s.RecentSyncLogs(10)
		if err != nil {
			t.Fatalf("failed to list sync logs: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record after prune, got %d", len(records))
		}
		if records[0].Trigger != "manual" {
			t.Errorf("expected surviving record to be manual, got %q", records[0].Trigger)
		}
	})
}
