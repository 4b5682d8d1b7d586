// Package ics converts task records to and from iCalendar event payloads.
//
// Emitted events carry the task state in conventional properties (SUMMARY,
// DTSTART, DTEND, CATEGORIES, COLOR, DESCRIPTION, URL, VALARM) so that any
// calendar client can render and edit them. The parser recovers the same
// fields from events written by this package or by hand.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/macjediwizard/notiondavsync/internal/task"
)

const prodID = "-//Notion Sync//EN"

// ErrNoEvent indicates calendar data without a VEVENT component.
var ErrNoEvent = errors.New("no VEVENT in calendar data")

// Codec renders tasks as iCalendar documents. The emoji style decides which
// status marker set is written into event summaries.
type Codec struct {
	emojiStyle string
	now        func() time.Time
}

// NewCodec creates a codec using the given status marker style.
func NewCodec(emojiStyle string) *Codec {
	return &Codec{
		emojiStyle: emojiStyle,
		now:        time.Now,
	}
}

// BuildUID returns the stable event UID for a page identifier.
func BuildUID(notionID string) string {
	return "notion-" + notionID + "@sync"
}

// NotionIDFromUID recovers the page identifier from an event UID. It returns
// an empty string for UIDs minted by other software.
func NotionIDFromUID(uid string) string {
	head, _, ok := strings.Cut(uid, "@")
	if !ok || !strings.HasPrefix(head, "notion-") {
		return ""
	}
	return strings.TrimPrefix(head, "notion-")
}

// DefaultURL returns the page URL used when a task carries no explicit link.
func DefaultURL(notionID string) string {
	return "https://www.notion.so/" + strings.ReplaceAll(notionID, "-", "")
}

// Emit renders a task as a complete single-event iCalendar document.
func (c *Codec) Emit(t *task.Task) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, BuildUID(t.NotionID))
	event.Props.SetText(ical.PropSummary, c.summaryFor(t))

	if t.Color != "" {
		event.Props.SetText(ical.PropColor, t.Color)
	}
	if t.Category != "" {
		event.Props.SetText(ical.PropCategories, t.Category)
	}

	writeStamps(event.Props, c.now().UTC())

	if t.StartDate != "" {
		if err := writeEventDates(event.Props, t.StartDate, t.EndDate); err != nil {
			return "", err
		}
	}

	event.Props.SetText(ical.PropDescription, composeDescription(t))

	eventURL := t.URL
	if eventURL == "" {
		eventURL = DefaultURL(t.NotionID)
	}
	urlProp := ical.NewProp(ical.PropURL)
	urlProp.Value = eventURL
	event.Props.Set(urlProp)

	alarm, err := c.alarmFor(t)
	if err != nil {
		return "", err
	}
	if alarm != nil {
		event.Children = append(event.Children, alarm)
	}

	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

// Update rewrites the task-owned properties of an existing event while
// preserving everything else in the document: unknown properties, embedded
// VTIMEZONE components, and parameters added by the calendar server survive
// the round trip.
func (c *Codec) Update(existingICS string, t *task.Task) (string, error) {
	cal, err := ical.NewDecoder(strings.NewReader(existingICS)).Decode()
	if err != nil {
		return "", fmt.Errorf("decode calendar: %w", err)
	}

	var event *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			event = child
			break
		}
	}
	if event == nil {
		return "", ErrNoEvent
	}

	if t.NotionID != "" {
		event.Props.SetText(ical.PropUID, BuildUID(t.NotionID))
		eventURL := t.URL
		if eventURL == "" {
			eventURL = DefaultURL(t.NotionID)
		}
		urlProp := ical.NewProp(ical.PropURL)
		urlProp.Value = eventURL
		event.Props.Set(urlProp)
	}

	event.Props.SetText(ical.PropSummary, c.summaryFor(t))

	if t.Color != "" {
		event.Props.SetText(ical.PropColor, t.Color)
	} else {
		delete(event.Props, ical.PropColor)
	}
	if t.Category != "" {
		event.Props.SetText(ical.PropCategories, t.Category)
	} else {
		delete(event.Props, ical.PropCategories)
	}

	if t.StartDate != "" {
		if err := writeEventDates(event.Props, t.StartDate, t.EndDate); err != nil {
			return "", err
		}
	}

	event.Props.SetText(ical.PropDescription, composeDescription(t))
	writeStamps(event.Props, c.now().UTC())

	kept := event.Children[:0]
	for _, child := range event.Children {
		if child.Name != ical.CompAlarm {
			kept = append(kept, child)
		}
	}
	event.Children = kept

	alarm, err := c.alarmFor(t)
	if err != nil {
		return "", err
	}
	if alarm != nil {
		event.Children = append(event.Children, alarm)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode calendar: %w", err)
	}
	return buf.String(), nil
}

// summaryFor builds the event summary: a status marker followed by the
// title. Titles are cleaned of any marker or status word left over from a
// prior round trip so the prefix never stacks.
func (c *Codec) summaryFor(t *task.Task) string {
	title := task.CleanTitle(t.Title)
	if title == "" {
		title = strings.TrimSpace(t.Title)
	}
	if title == "" {
		title = "Untitled"
	}
	emoji := task.StatusEmoji(t.Status, c.emojiStyle)
	if emoji == "" {
		emoji = task.StatusEmoji(task.StatusTodo, c.emojiStyle)
	}
	return emoji + title
}

// alarmFor builds a DISPLAY alarm for timed tasks with a reminder before the
// start. It returns nil when the task does not want one.
func (c *Codec) alarmFor(t *task.Task) (*ical.Component, error) {
	if t.Reminder == "" || t.StartDate == "" || task.IsAllDay(t.StartDate) {
		return nil, nil
	}
	start, err := task.ParseTime(t.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", t.StartDate, err)
	}
	reminder, err := task.ParseTime(t.Reminder)
	if err != nil {
		return nil, fmt.Errorf("parse reminder %q: %w", t.Reminder, err)
	}
	minutes := int(start.Sub(reminder) / time.Minute)
	if minutes <= 0 {
		return nil, nil
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	// Set the trigger value directly so the encoder does not add VALUE=TEXT.
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", minutes)
	alarm.Props.Set(trigger)
	alarm.Props.SetText(ical.PropDescription, "Reminder: "+t.Title)
	return alarm, nil
}

// writeEventDates sets DTSTART and DTEND from the task's date strings.
// Date-only tasks become all-day events with the exclusive end convention,
// so a missing or equal end still spans the full start day. Timed tasks are
// written in UTC; a missing end collapses to the start instant.
func writeEventDates(props ical.Props, startDate, endDate string) error {
	if task.IsAllDay(startDate) {
		start, err := civilDate(startDate)
		if err != nil {
			return fmt.Errorf("parse start date %q: %w", startDate, err)
		}
		end := start
		if endDate != "" {
			end, err = civilDate(endDate)
			if err != nil {
				return fmt.Errorf("parse end date %q: %w", endDate, err)
			}
		}
		startProp := ical.NewProp(ical.PropDateTimeStart)
		startProp.SetDate(start)
		props.Set(startProp)
		endProp := ical.NewProp(ical.PropDateTimeEnd)
		endProp.SetDate(end.AddDate(0, 0, 1))
		props.Set(endProp)
		return nil
	}

	start, err := task.ParseTime(startDate)
	if err != nil {
		return fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	end := start
	if endDate != "" {
		end, err = task.ParseTime(endDate)
		if err != nil {
			return fmt.Errorf("parse end date %q: %w", endDate, err)
		}
	}
	startProp := ical.NewProp(ical.PropDateTimeStart)
	startProp.SetDateTime(start.UTC())
	props.Set(startProp)
	endProp := ical.NewProp(ical.PropDateTimeEnd)
	endProp.SetDateTime(end.UTC())
	props.Set(endProp)
	return nil
}

// civilDate parses a calendar date, tolerating full timestamps by taking
// their date component.
func civilDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := task.ParseTime(value)
	if err != nil {
		return time.Time{}, err
	}
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

func writeStamps(props ical.Props, now time.Time) {
	for _, name := range []string{ical.PropDateTimeStamp, ical.PropLastModified} {
		prop := ical.NewProp(name)
		prop.SetDateTime(now)
		props.Set(prop)
	}
}

// composeDescription renders the event description: a header block naming
// the originating data source and the category under its source property
// name, then a blank line and the task body. The blank line is what lets the
// parser give colon-containing bodies back untouched.
func composeDescription(t *task.Task) string {
	source := strings.TrimSpace(t.DatabaseTitle)
	if source == "" {
		source = "-"
	}
	parts := []string{"Source: " + source}
	if t.Category != "" {
		label := strings.TrimSpace(t.CategoryLabel)
		if label == "" {
			label = "Category"
		}
		parts = append(parts, label+": "+t.Category)
	}
	if t.Description != "" {
		parts = append(parts, "", t.Description)
	}
	return strings.Join(parts, "\n")
}
