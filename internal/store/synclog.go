package store

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

const syncLogPrefix = "synclog:"

// PassRecord is the persisted summary of one finished reconciliation pass.
type PassRecord struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
	Counters   map[string]int `json:"counters"`
	Error      string         `json:"error,omitempty"`
}

// AppendSyncLog persists one pass summary. The key embeds the start time so
// keys sort chronologically.
func (s *Store) AppendSyncLog(rec *PassRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.StartedAt == "" {
		rec.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode sync log %s: %w", rec.ID, err)
	}
	key := syncLogPrefix + rec.StartedAt + ":" + rec.ID
	return s.Put(key, string(raw))
}

// RecentSyncLogs returns up to limit pass summaries, newest first.
func (s *Store) RecentSyncLogs(limit int) ([]*PassRecord, error) {
	entries, err := s.ListAll(syncLogPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]*PassRecord, 0, len(entries))
	for _, e := range entries {
		rec := &PassRecord{}
		if err := json.Unmarshal([]byte(e.Value), rec); err != nil {
			log.Printf("[store] failed to decode sync log at %s: %v", e.Key, err)
			continue
		}
		records = append(records, rec)
	}

	// Keys sort oldest first; reverse for newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PruneSyncLogs deletes pass summaries started before the cutoff and
// returns how many were removed.
func (s *Store) PruneSyncLogs(before time.Time) (int, error) {
	entries, err := s.ListAll(syncLogPrefix)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, e := range entries {
		rest := strings.TrimPrefix(e.Key, syncLogPrefix)
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			continue
		}
		startedAt, err := time.Parse(time.RFC3339, rest[:idx])
		if err != nil {
			log.Printf("[store] failed to parse sync log key %s: %v", e.Key, err)
			continue
		}
		if !startedAt.Before(before) {
			continue
		}
		if err := s.Delete(e.Key); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
