package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// CanonicalHash digests the content fields of a task: title, normalized
// status, start date, end date, category, and description. Reminder is
// excluded so CalDAV alarm round-trips never destabilize the hash.
// Timestamps are normalized to UTC and a missing end date collapses to the
// start date, so a task and its parsed event projection hash equal.
func CanonicalHash(t *Task) string {
	if t == nil {
		return ""
	}

	start := normalizeDateForHash(t.StartDate)
	end := normalizeDateForHash(t.EndDate)
	if end == "" {
		end = start
	}

	payload, err := json.Marshal([]string{
		strings.TrimSpace(t.Title),
		NormalizeStatus(t.Status),
		start,
		end,
		strings.TrimSpace(t.Category),
		strings.TrimSpace(t.Description),
	})
	if err != nil {
		// A string slice always marshals; keep the hash total anyway.
		payload = []byte(t.Title)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// normalizeDateForHash renders timestamps in UTC RFC3339 so offset and
// fractional-second variations of the same instant hash identically.
// Date-only values pass through unchanged.
func normalizeDateForHash(value string) string {
	if value == "" || !strings.Contains(value, "T") {
		return value
	}
	parsed, err := ParseTime(value)
	if err != nil {
		return value
	}
	return parsed.UTC().Format(time.RFC3339)
}
