package notion

import (
	"strings"
)

// Logical property roles the sync cares about.
const (
	RoleTitle       = "title"
	RoleStatus      = "status"
	RoleDate        = "date"
	RoleReminder    = "reminder"
	RoleCategory    = "category"
	RoleDescription = "description"
)

// fallbackNames lists the well-known property names tried per role, in
// preference order. The first entry is used for writes when the schema is
// unavailable.
var fallbackNames = map[string][]string{
	RoleTitle:       {"Title", "Name", "Task"},
	RoleStatus:      {"Status", "Task Status", "Progress"},
	RoleDate:        {"Due date", "Due", "Date", "Deadline", "Scheduled"},
	RoleReminder:    {"Reminder", "Notification"},
	RoleCategory:    {"Category", "Tags", "Tag", "Type", "Class"},
	RoleDescription: {"Description", "Notes"},
}

// Option is one value of a status or select property.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// optionList wraps the option array of a status or select schema.
type optionList struct {
	Options []Option `json:"options"`
}

// PropertySchema is one property definition in a data source schema,
// decoded by type tag.
type PropertySchema struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Status *optionList `json:"status,omitempty"`
	Select *optionList `json:"select,omitempty"`
}

// options returns the option list for status and select properties.
func (p PropertySchema) options() []Option {
	if p.Status != nil {
		return p.Status.Options
	}
	if p.Select != nil {
		return p.Select.Options
	}
	return nil
}

// RichText is one fragment of a rich text array; only the plain text
// rendering matters here.
type RichText struct {
	PlainText string `json:"plain_text"`
}

func plainText(fragments []RichText) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f.PlainText)
	}
	return b.String()
}

// DateValue is a date property value. Start and End are date-only
// YYYY-MM-DD strings or full timestamps.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// PropertyValue is one property value on a page, decoded by type tag.
type PropertyValue struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Status   *Option    `json:"status,omitempty"`
	Select   *Option    `json:"select,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
}

// DataSource is one task collection: its identity and property schema.
type DataSource struct {
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// TitleText renders the data source title.
func (ds *DataSource) TitleText() string {
	if ds == nil {
		return ""
	}
	return plainText(ds.Title)
}

// Page is one page of a data source.
type Page struct {
	ID             string                   `json:"id"`
	URL            string                   `json:"url"`
	Archived       bool                     `json:"archived"`
	InTrash        bool                     `json:"in_trash"`
	LastEditedTime string                   `json:"last_edited_time"`
	Parent         PageParent               `json:"parent"`
	Properties     map[string]PropertyValue `json:"properties"`
}

// PageParent identifies the collection owning a page.
type PageParent struct {
	Type         string `json:"type"`
	DataSourceID string `json:"data_source_id,omitempty"`
	DatabaseID   string `json:"database_id,omitempty"`
}

// OwnerID returns the owning collection id regardless of parent shape.
func (p PageParent) OwnerID() string {
	if p.DataSourceID != "" {
		return p.DataSourceID
	}
	return p.DatabaseID
}

// IsTaskSchema reports whether a schema can hold tasks: at least one date
// property and at least one status or select property.
func IsTaskSchema(properties map[string]PropertySchema) bool {
	var hasDate, hasStatus bool
	for _, prop := range properties {
		switch prop.Type {
		case "date":
			hasDate = true
		case "status", "select":
			hasStatus = true
		}
	}
	return hasDate && hasStatus
}

// FindPropertyNames resolves each logical role to an actual property name
// by type inspection of the schema: well-known names win when their type
// fits, any property of the right type is the fallback. Roles with no
// suitable property are absent from the result.
func FindPropertyNames(ds *DataSource) map[string]string {
	names := make(map[string]string)
	if ds == nil {
		return names
	}

	byLower := make(map[string]PropertySchema, len(ds.Properties))
	for name, prop := range ds.Properties {
		byLower[strings.ToLower(name)] = named(prop, name)
	}

	pick := func(role string, types ...string) {
		for _, candidate := range fallbackNames[role] {
			if prop, ok := byLower[strings.ToLower(candidate)]; ok && typeIn(prop.Type, types) {
				names[role] = prop.Name
				return
			}
		}
		for name, prop := range ds.Properties {
			if typeIn(prop.Type, types) {
				names[role] = name
				return
			}
		}
	}

	pick(RoleTitle, "title")
	pick(RoleStatus, "status", "select")
	pick(RoleDate, "date")
	pick(RoleDescription, "rich_text")

	// Reminder and category have no type of their own; only well-known
	// names qualify, and the date role must not be stolen.
	for _, candidate := range fallbackNames[RoleReminder] {
		if prop, ok := byLower[strings.ToLower(candidate)]; ok && prop.Type == "date" && prop.Name != names[RoleDate] {
			names[RoleReminder] = prop.Name
			break
		}
	}
	for _, candidate := range fallbackNames[RoleCategory] {
		if prop, ok := byLower[strings.ToLower(candidate)]; ok && prop.Type == "select" && prop.Name != names[RoleStatus] {
			names[RoleCategory] = prop.Name
			break
		}
	}

	return names
}

func named(prop PropertySchema, name string) PropertySchema {
	if prop.Name == "" {
		prop.Name = name
	}
	return prop
}

func typeIn(t string, types []string) bool {
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}

// TaskProperties is the write-side view of a task: the property values to
// place on a page.
type TaskProperties struct {
	Title       string
	Status      string
	StartDate   string
	EndDate     string
	Reminder    string
	Category    string
	Description string
}

// BuildProperties renders a property payload for page writes. With a schema
// available, names are resolved by type inspection and status values map
// only by case-insensitive exact match to an existing option (dropped
// otherwise). Date-only ranges collapse end == start to a bare start.
func BuildProperties(t *TaskProperties, ds *DataSource) map[string]any {
	names := FindPropertyNames(ds)
	name := func(role string) string {
		if resolved, ok := names[role]; ok {
			return resolved
		}
		return fallbackNames[role][0]
	}

	props := make(map[string]any)

	props[name(RoleTitle)] = map[string]any{
		"title": []map[string]any{{"text": map[string]any{"content": t.Title}}},
	}

	if t.Status != "" {
		if value, kind, ok := resolveStatusValue(t.Status, ds, names); ok {
			props[name(RoleStatus)] = map[string]any{kind: map[string]any{"name": value}}
		}
	}

	if t.StartDate != "" {
		date := map[string]any{"start": t.StartDate}
		end := t.EndDate
		if end == t.StartDate && !strings.Contains(t.StartDate, "T") {
			end = ""
		}
		if end != "" {
			date["end"] = end
		}
		props[name(RoleDate)] = map[string]any{"date": date}
	}

	if t.Reminder != "" {
		if reminderName, ok := names[RoleReminder]; ok {
			props[reminderName] = map[string]any{"date": map[string]any{"start": t.Reminder}}
		}
	}

	if t.Category != "" {
		if categoryName, ok := names[RoleCategory]; ok {
			props[categoryName] = map[string]any{"select": map[string]any{"name": t.Category}}
		}
	}

	if t.Description != "" {
		if descName, ok := names[RoleDescription]; ok {
			props[descName] = map[string]any{
				"rich_text": []map[string]any{{"text": map[string]any{"content": t.Description}}},
			}
		}
	}

	return props
}

// resolveStatusValue maps a status value into the target schema's option
// list. Without a schema the value passes through as a status write; with a
// schema, only a case-insensitive exact option match survives.
func resolveStatusValue(value string, ds *DataSource, names map[string]string) (string, string, bool) {
	if ds == nil {
		return value, "status", true
	}
	statusName, ok := names[RoleStatus]
	if !ok {
		return "", "", false
	}
	prop, ok := ds.Properties[statusName]
	if !ok {
		// Schema keyed by a different spelling; fall back to a scan.
		for _, p := range ds.Properties {
			if p.Name == statusName {
				prop = p
				ok = true
				break
			}
		}
		if !ok {
			return "", "", false
		}
	}

	kind := prop.Type
	if kind != "status" && kind != "select" {
		return "", "", false
	}
	for _, option := range prop.options() {
		if strings.EqualFold(option.Name, value) {
			return option.Name, kind, true
		}
	}
	return "", "", false
}
