// Package task defines the logical task model shared by the Doc-store and
// CalDAV sides of the sync engine, together with status canonicalization,
// the canonical content hash, and overdue derivation.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Task is the logical task record. Date values are either date-only
// (YYYY-MM-DD) or ISO-8601 timestamps with an offset, matching both wire
// formats.
type Task struct {
	NotionID    string
	Title       string
	Status      string
	StartDate   string
	EndDate     string
	Reminder    string
	Category    string
	Description string
	Color       string
	URL         string

	DatabaseID    string
	DatabaseTitle string
	// CategoryLabel is the source property name behind Category, e.g. "Tags".
	CategoryLabel string

	LastEdited time.Time
}

// IsAllDay reports whether a date value carries no time component.
func IsAllDay(value string) bool {
	return value != "" && !strings.Contains(value, "T")
}

// DueDate returns the task's due value: the end date when set, else the
// start date. Empty when the task has no dates.
func (t *Task) DueDate() string {
	if t.EndDate != "" {
		return t.EndDate
	}
	return t.StartDate
}

// HasStartDate reports whether the task carries a start date.
func (t *Task) HasStartDate() bool {
	return t != nil && t.StartDate != ""
}

// ParseTime parses an ISO-8601 timestamp. Values without an offset are
// interpreted as UTC.
func ParseTime(value string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
