package notion

import (
	"strings"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/task"
)

// ParsePage recovers a task from a page's property values. Properties are
// matched by type tag, preferring the well-known names when several
// properties share a type. Pages with no title property are not tasks and
// yield nil.
func ParsePage(p *Page, dsTitle string) *task.Task {
	if p == nil {
		return nil
	}

	t := &task.Task{
		NotionID:      p.ID,
		URL:           p.URL,
		DatabaseID:    p.Parent.OwnerID(),
		DatabaseTitle: dsTitle,
	}

	if p.LastEditedTime != "" {
		if edited, err := task.ParseTime(p.LastEditedTime); err == nil {
			t.LastEdited = edited.UTC()
		}
	}

	titleFound := false
	for name, value := range p.Properties {
		switch value.Type {
		case "title":
			t.Title = strings.TrimSpace(plainText(value.Title))
			titleFound = true
		case "status":
			if value.Status != nil && preferRole(RoleStatus, name, t.Status == "") {
				t.Status = value.Status.Name
			}
		case "select":
			applySelect(t, name, value.Select)
		case "date":
			applyDate(t, name, value.Date)
		case "rich_text":
			if preferRole(RoleDescription, name, t.Description == "") {
				t.Description = strings.TrimSpace(plainText(value.RichText))
			}
		}
	}
	if !titleFound {
		return nil
	}
	return t
}

// preferRole reports whether a property name should fill a role: known
// names always win, unknown names only fill an empty slot.
func preferRole(role, name string, empty bool) bool {
	for _, candidate := range fallbackNames[role] {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return empty
}

// applySelect routes a select value to status or category by name. Select
// properties double as status columns in schemas without a status type.
func applySelect(t *task.Task, name string, option *Option) {
	if option == nil {
		return
	}
	for _, candidate := range fallbackNames[RoleCategory] {
		if strings.EqualFold(candidate, name) {
			t.Category = option.Name
			t.CategoryLabel = name
			return
		}
	}
	for _, candidate := range fallbackNames[RoleStatus] {
		if strings.EqualFold(candidate, name) {
			t.Status = option.Name
			return
		}
	}
	if t.Category == "" {
		t.Category = option.Name
		t.CategoryLabel = name
	}
}

// applyDate routes a date value to the due range or the reminder by name.
func applyDate(t *task.Task, name string, date *DateValue) {
	if date == nil || date.Start == "" {
		return
	}
	for _, candidate := range fallbackNames[RoleReminder] {
		if strings.EqualFold(candidate, name) {
			t.Reminder = date.Start
			return
		}
	}
	if t.StartDate != "" && !preferRole(RoleDate, name, false) {
		return
	}
	t.StartDate = date.Start
	t.EndDate = date.End
}

// Properties converts a task into its write-side property view.
func Properties(t *task.Task) *TaskProperties {
	return &TaskProperties{
		Title:       t.Title,
		Status:      t.Status,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		Reminder:    t.Reminder,
		Category:    t.Category,
		Description: t.Description,
	}
}

// MaxLastEdited returns the newest last-edited timestamp over a set of
// pages, formatted for the incremental query cursor. Empty when no page
// carries one.
func MaxLastEdited(pages []*Page) string {
	var max time.Time
	for _, p := range pages {
		if p.LastEditedTime == "" {
			continue
		}
		edited, err := task.ParseTime(p.LastEditedTime)
		if err != nil {
			continue
		}
		if edited.After(max) {
			max = edited
		}
	}
	if max.IsZero() {
		return ""
	}
	return max.UTC().Format(time.RFC3339)
}
