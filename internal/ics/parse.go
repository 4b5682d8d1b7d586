package ics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/macjediwizard/notiondavsync/internal/task"
)

// ParsedEvent is the task view of a calendar event plus the raw UID, which
// callers need to address events that were not minted by this service.
type ParsedEvent struct {
	UID  string
	Task task.Task
}

var triggerPattern = regexp.MustCompile(`^-PT(\d+)M`)

// Parse reads the first VEVENT of an iCalendar document and recovers the
// task fields from it. Events created by other software parse fine; they
// simply come back without a page identifier.
func Parse(icsText string) (*ParsedEvent, error) {
	cal, err := ical.NewDecoder(strings.NewReader(icsText)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}

	var event *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			event = child
			break
		}
	}
	if event == nil {
		return nil, ErrNoEvent
	}

	parsed := &ParsedEvent{}

	if uid, err := event.Props.Text(ical.PropUID); err == nil {
		parsed.UID = uid
		parsed.Task.NotionID = NotionIDFromUID(uid)
	}

	if summary, err := event.Props.Text(ical.PropSummary); err == nil {
		status, title := task.ExtractSummaryStatus(summary)
		parsed.Task.Title = title
		if status != "" {
			parsed.Task.Status = status
		}
	}

	if prop := event.Props.Get(ical.PropCategories); prop != nil {
		if text, err := prop.Text(); err == nil && text != "" {
			first, _, _ := strings.Cut(text, ",")
			parsed.Task.Category = first
		}
	}
	if prop := event.Props.Get(ical.PropColor); prop != nil {
		if text, err := prop.Text(); err == nil {
			parsed.Task.Color = text
		}
	}

	var start time.Time
	var startSet, startAllDay bool
	if prop := event.Props.Get(ical.PropDateTimeStart); prop != nil {
		if t, allDay, err := propDateTime(prop); err == nil {
			start, startSet, startAllDay = t, true, allDay
			if allDay {
				parsed.Task.StartDate = t.Format("2006-01-02")
			} else {
				parsed.Task.StartDate = t.UTC().Format(time.RFC3339)
			}
		}
	}
	if prop := event.Props.Get(ical.PropDateTimeEnd); prop != nil {
		if t, allDay, err := propDateTime(prop); err == nil {
			if allDay {
				// DTEND is exclusive for all-day events; the task records
				// the last covered day.
				t = t.AddDate(0, 0, -1)
				if startSet && startAllDay && t.Before(start) {
					t = start
				}
				parsed.Task.EndDate = t.Format("2006-01-02")
			} else {
				parsed.Task.EndDate = t.UTC().Format(time.RFC3339)
			}
		}
	}

	if text, err := event.Props.Text(ical.PropDescription); err == nil && text != "" {
		headers, body, bodyFound := parseDescriptionFields(text)
		if v, ok := headers["Source"]; ok && v != "-" {
			parsed.Task.DatabaseTitle = v
		}
		if v, ok := headers["Category"]; ok {
			parsed.Task.Category = v
		}
		switch {
		case bodyFound:
			parsed.Task.Description = body
		case len(headers) > 0:
			if v, ok := headers["Description"]; ok {
				parsed.Task.Description = v
			}
		default:
			// No headers at all: the whole text is a free-form description.
			parsed.Task.Description = strings.TrimSpace(text)
		}
		// A Status header only fills in when the summary carried no marker.
		if parsed.Task.Status == "" {
			if v, ok := headers["Status"]; ok {
				parsed.Task.Status = v
			}
		}
	}
	if parsed.Task.Status == "" {
		parsed.Task.Status = task.StatusTodo
	}

	if prop := event.Props.Get(ical.PropLastModified); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			parsed.Task.LastEdited = t.UTC()
		}
	}

	if startSet {
		for _, child := range event.Children {
			if child.Name != ical.CompAlarm {
				continue
			}
			trigger := child.Props.Get(ical.PropTrigger)
			if trigger == nil {
				continue
			}
			m := triggerPattern.FindStringSubmatch(trigger.Value)
			if m == nil {
				continue
			}
			var minutes int
			fmt.Sscanf(m[1], "%d", &minutes)
			reminder := start.UTC().Add(-time.Duration(minutes) * time.Minute)
			parsed.Task.Reminder = reminder.Format(time.RFC3339)
		}
	}

	return parsed, nil
}

// parseDescriptionFields splits a description into "Key: value" headers and
// a free-text body. Headers occupy the lines before the first blank line, or
// a single pipe-separated line. The body is everything after the blank line.
func parseDescriptionFields(text string) (map[string]string, string, bool) {
	headerText := text
	body := ""
	bodyFound := false
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		headerText = text[:idx]
		if rest := strings.TrimSpace(text[idx+2:]); rest != "" {
			body, bodyFound = rest, true
		}
	}

	var candidates []string
	if strings.Contains(headerText, "\n") {
		for _, line := range strings.Split(headerText, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				candidates = append(candidates, trimmed)
			}
		}
	} else {
		for _, part := range strings.Split(headerText, "|") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				candidates = append(candidates, trimmed)
			}
		}
	}

	headers := make(map[string]string)
	for _, item := range candidates {
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers, body, bodyFound
}

// propDateTime returns the instant carried by a date or date-time property
// along with whether the value was date-only. Values with TZID parameters
// that name offsets instead of zones, like "GMT-0500", still resolve.
func propDateTime(prop *ical.Prop) (time.Time, bool, error) {
	if prop.ValueType() == ical.ValueDate {
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return time.Time{}, true, err
		}
		return t, true, nil
	}
	if t, err := prop.DateTime(time.UTC); err == nil {
		return t, false, nil
	}
	if tzid := prop.Params.Get("TZID"); tzid != "" {
		if loc := locationFromOffset(tzid); loc != nil {
			if t, err := time.ParseInLocation("20060102T150405", prop.Value, loc); err == nil {
				return t, false, nil
			}
		}
	}
	if t, err := time.Parse("20060102", prop.Value); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("unsupported %s value %q", prop.Name, prop.Value)
}

// locationFromOffset interprets TZID values like "GMT-0400", "UTC+05:30" or
// "Etc/GMT+2" as fixed offsets. It returns nil when the value does not look
// like an offset.
func locationFromOffset(tzid string) *time.Location {
	offset := tzid
	for _, prefix := range []string{"GMT", "UTC", "Etc/GMT"} {
		if strings.HasPrefix(offset, prefix) {
			offset = strings.TrimPrefix(offset, prefix)
			break
		}
	}
	if offset == tzid {
		return nil
	}
	if offset == "" {
		return time.UTC
	}

	sign := 1
	if strings.HasPrefix(offset, "-") {
		sign = -1
		offset = offset[1:]
	} else if strings.HasPrefix(offset, "+") {
		offset = offset[1:]
	}

	offset = strings.ReplaceAll(offset, ":", "")

	var hours, minutes int
	switch len(offset) {
	case 1, 2:
		fmt.Sscanf(offset, "%d", &hours)
	case 3:
		fmt.Sscanf(offset, "%1d%2d", &hours, &minutes)
	case 4:
		fmt.Sscanf(offset, "%2d%2d", &hours, &minutes)
	default:
		return nil
	}

	return time.FixedZone(tzid, sign*(hours*3600+minutes*60))
}
