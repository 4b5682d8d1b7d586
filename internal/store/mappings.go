package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

const (
	mappingRecordPrefix      = "mapping:record:"
	mappingNotionIndexPrefix = "mapping:index:notion:"
	mappingCalDAVIndexPrefix = "mapping:index:caldav:"
)

// MappingRecord links one Doc-store page identity to one CalDAV event
// identity, together with the hashes and timestamps used to detect change.
type MappingRecord struct {
	SyncID           string `json:"sync_id"`
	NotionPageID     string `json:"notion_page_id"`
	CalDAVUID        string `json:"caldav_uid"`
	CalDAVETag       string `json:"caldav_etag"`
	NotionHash       string `json:"notion_hash"`
	CalDAVHash       string `json:"caldav_hash"`
	NotionLastEdited string `json:"notion_last_edited"`
	LastSyncTime     string `json:"last_sync_time"`
}

// SaveMapping writes the record plus both index keys. A missing SyncID is
// minted. The substrate guarantees per-key linearizability only; readers
// tolerate a transiently dangling index.
func (s *Store) SaveMapping(rec *MappingRecord) error {
	if rec.SyncID == "" {
		rec.SyncID = uuid.New().String()
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode mapping %s: %w", rec.SyncID, err)
	}
	if err := s.Put(mappingRecordPrefix+rec.SyncID, string(raw)); err != nil {
		return err
	}

	syncID, err := json.Marshal(rec.SyncID)
	if err != nil {
		return fmt.Errorf("failed to encode mapping id %s: %w", rec.SyncID, err)
	}
	if rec.NotionPageID != "" {
		if err := s.Put(mappingNotionIndexPrefix+rec.NotionPageID, string(syncID)); err != nil {
			return err
		}
	}
	if rec.CalDAVUID != "" {
		if err := s.Put(mappingCalDAVIndexPrefix+rec.CalDAVUID, string(syncID)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMapping removes the record and both index keys.
func (s *Store) DeleteMapping(rec *MappingRecord) error {
	if rec == nil || rec.SyncID == "" {
		return nil
	}
	if err := s.Delete(mappingRecordPrefix + rec.SyncID); err != nil {
		return err
	}
	if rec.NotionPageID != "" {
		if err := s.Delete(mappingNotionIndexPrefix + rec.NotionPageID); err != nil {
			return err
		}
	}
	if rec.CalDAVUID != "" {
		if err := s.Delete(mappingCalDAVIndexPrefix + rec.CalDAVUID); err != nil {
			return err
		}
	}
	return nil
}

// MappingBySyncID loads one mapping record by its id.
func (s *Store) MappingBySyncID(syncID string) (*MappingRecord, error) {
	raw, err := s.Get(mappingRecordPrefix + syncID)
	if err != nil {
		return nil, err
	}
	rec := &MappingRecord{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("failed to decode mapping %s: %w", syncID, err)
	}
	return rec, nil
}

// MappingByNotionID resolves a mapping through the Doc-side index.
func (s *Store) MappingByNotionID(pageID string) (*MappingRecord, error) {
	return s.mappingByIndex(mappingNotionIndexPrefix + pageID)
}

// MappingByCalDAVUID resolves a mapping through the CalDAV-side index.
func (s *Store) MappingByCalDAVUID(uid string) (*MappingRecord, error) {
	return s.mappingByIndex(mappingCalDAVIndexPrefix + uid)
}

// mappingByIndex follows an index key to its record. An index pointing at a
// missing record is treated as absence and cleaned up best-effort.
func (s *Store) mappingByIndex(indexKey string) (*MappingRecord, error) {
	raw, err := s.Get(indexKey)
	if err != nil {
		return nil, err
	}
	var syncID string
	if err := json.Unmarshal([]byte(raw), &syncID); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", indexKey, err)
	}

	rec, err := s.MappingBySyncID(syncID)
	if errors.Is(err, ErrNotFound) {
		if cleanupErr := s.Delete(indexKey); cleanupErr != nil {
			log.Printf("[store] failed to clean stray index %s: %v", indexKey, cleanupErr)
		}
		return nil, ErrNotFound
	}
	return rec, err
}

// ListMappings returns every mapping record. Undecodable records are logged
// and skipped.
func (s *Store) ListMappings() ([]*MappingRecord, error) {
	entries, err := s.ListAll(mappingRecordPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]*MappingRecord, 0, len(entries))
	for _, e := range entries {
		rec := &MappingRecord{}
		if err := json.Unmarshal([]byte(e.Value), rec); err != nil {
			log.Printf("[store] failed to decode mapping at %s: %v", e.Key, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
