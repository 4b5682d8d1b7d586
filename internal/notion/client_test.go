package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret-token", "2025-09-03", WithHTTPClient(srv.Client()))
}

func TestDoSetsHeaders(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != "2025-09-03" {
			t.Errorf("unexpected Notion-Version header %q", got)
		}
		w.Write([]byte(`{"results":[],"has_more":false}`))
	}))

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestDoErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		expected error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrAuthFailed},
		{"forbidden", http.StatusForbidden, ErrAuthFailed},
		{"server error", http.StatusInternalServerError, ErrRequestFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := client.GetPage(context.Background(), "p1")
			if !errors.Is(err, tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, err)
			}
		})
	}
}

func TestListDataSourcesPagination(t *testing.T) {
	t.Run("follows cursors", func(t *testing.T) {
		var cursors []string
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			cursor, _ := payload["start_cursor"].(string)
			cursors = append(cursors, cursor)

			if cursor == "" {
				w.Write([]byte(`{"results":[{"id":"ds1"}],"has_more":true,"next_cursor":"c2"}`))
				return
			}
			w.Write([]byte(`{"results":[{"id":"ds2"}],"has_more":false}`))
		}))

		sources, err := client.ListDataSources(context.Background())
		if err != nil {
			t.Fatalf("ListDataSources: %v", err)
		}
		if len(sources) != 2 || sources[0].ID != "ds1" || sources[1].ID != "ds2" {
			t.Errorf("unexpected sources %+v", sources)
		}
		if len(cursors) != 2 || cursors[1] != "c2" {
			t.Errorf("unexpected cursors %v", cursors)
		}
	})

	t.Run("stops when has_more lacks a cursor", func(t *testing.T) {
		calls := 0
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{"results":[{"id":"ds1"}],"has_more":true,"next_cursor":""}`))
		}))

		sources, err := client.ListDataSources(context.Background())
		if err != nil {
			t.Fatalf("ListDataSources: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected pagination to stop after 1 call, got %d", calls)
		}
		if len(sources) != 1 {
			t.Errorf("expected 1 source, got %d", len(sources))
		}
	})
}

func TestQueryPagesIncrementalFilter(t *testing.T) {
	var gotFilter map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		gotFilter, _ = payload["filter"].(map[string]any)
		w.Write([]byte(`{"results":[],"has_more":false}`))
	}))

	if _, err := client.QueryPages(context.Background(), "ds1", "2025-06-01T00:00:00Z"); err != nil {
		t.Fatalf("QueryPages: %v", err)
	}
	if gotFilter == nil {
		t.Fatal("expected a filter in the query payload")
	}
	if gotFilter["property"] != "last_edited_time" {
		t.Errorf("unexpected filter property %v", gotFilter["property"])
	}
	date, _ := gotFilter["date"].(map[string]any)
	if date["on_or_after"] != "2025-06-01T00:00:00Z" {
		t.Errorf("unexpected on_or_after %v", date["on_or_after"])
	}

	if _, err := client.QueryPages(context.Background(), "ds1", ""); err != nil {
		t.Fatalf("QueryPages without cursor: %v", err)
	}
	if gotFilter != nil {
		t.Errorf("expected no filter for authoritative query, got %v", gotFilter)
	}
}

func TestIsTaskSchema(t *testing.T) {
	testCases := []struct {
		name       string
		properties map[string]PropertySchema
		expected   bool
	}{
		{
			"date and status",
			map[string]PropertySchema{
				"Due date": {Type: "date"},
				"Status":   {Type: "status"},
			},
			true,
		},
		{
			"date and select",
			map[string]PropertySchema{
				"Date": {Type: "date"},
				"Tag":  {Type: "select"},
			},
			true,
		},
		{
			"date only",
			map[string]PropertySchema{"Date": {Type: "date"}},
			false,
		},
		{
			"status only",
			map[string]PropertySchema{"Status": {Type: "status"}},
			false,
		},
		{"empty", map[string]PropertySchema{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTaskSchema(tc.properties); got != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestFindPropertyNames(t *testing.T) {
	ds := &DataSource{
		ID: "ds1",
		Properties: map[string]PropertySchema{
			"Task":        {Name: "Task", Type: "title"},
			"Progress":    {Name: "Progress", Type: "status", Status: &optionList{Options: []Option{{Name: "Todo"}}}},
			"Deadline":    {Name: "Deadline", Type: "date"},
			"Reminder":    {Name: "Reminder", Type: "date"},
			"Tags":        {Name: "Tags", Type: "select"},
			"Description": {Name: "Description", Type: "rich_text"},
		},
	}

	names := FindPropertyNames(ds)
	expected := map[string]string{
		RoleTitle:       "Task",
		RoleStatus:      "Progress",
		RoleDate:        "Deadline",
		RoleReminder:    "Reminder",
		RoleCategory:    "Tags",
		RoleDescription: "Description",
	}
	for role, want := range expected {
		if got := names[role]; got != want {
			t.Errorf("role %s: expected %q, got %q", role, want, got)
		}
	}
}

func TestBuildProperties(t *testing.T) {
	ds := &DataSource{
		ID: "ds1",
		Properties: map[string]PropertySchema{
			"Title":  {Name: "Title", Type: "title"},
			"Status": {Name: "Status", Type: "status", Status: &optionList{Options: []Option{{Name: "To Do"}, {Name: "Done"}}}},
			"Date":   {Name: "Date", Type: "date"},
		},
	}

	t.Run("status matches case-insensitively", func(t *testing.T) {
		props := BuildProperties(&TaskProperties{Title: "Plan", Status: "to do"}, ds)
		status, ok := props["Status"].(map[string]any)
		if !ok {
			t.Fatalf("expected status property, got %v", props)
		}
		inner := status["status"].(map[string]any)
		if inner["name"] != "To Do" {
			t.Errorf("expected schema spelling To Do, got %v", inner["name"])
		}
	})

	t.Run("unmatched status is dropped", func(t *testing.T) {
		props := BuildProperties(&TaskProperties{Title: "Plan", Status: "Overdue"}, ds)
		if _, ok := props["Status"]; ok {
			t.Errorf("expected Overdue to be dropped, got %v", props["Status"])
		}
	})

	t.Run("date-only end equal to start collapses", func(t *testing.T) {
		props := BuildProperties(&TaskProperties{Title: "Plan", StartDate: "2025-06-01", EndDate: "2025-06-01"}, ds)
		date := props["Date"].(map[string]any)["date"].(map[string]any)
		if date["start"] != "2025-06-01" {
			t.Errorf("unexpected start %v", date["start"])
		}
		if _, ok := date["end"]; ok {
			t.Errorf("expected collapsed end, got %v", date["end"])
		}
	})

	t.Run("distinct end survives", func(t *testing.T) {
		props := BuildProperties(&TaskProperties{Title: "Plan", StartDate: "2025-06-01", EndDate: "2025-06-03"}, ds)
		date := props["Date"].(map[string]any)["date"].(map[string]any)
		if date["end"] != "2025-06-03" {
			t.Errorf("expected end 2025-06-03, got %v", date["end"])
		}
	})

	t.Run("no schema uses well-known names", func(t *testing.T) {
		props := BuildProperties(&TaskProperties{Title: "Buy milk", Status: "Todo", StartDate: "2025-06-01"}, nil)
		if _, ok := props["Title"]; !ok {
			t.Errorf("expected Title property, got %v", props)
		}
		if _, ok := props["Status"]; !ok {
			t.Errorf("expected Status property, got %v", props)
		}
		if _, ok := props["Due date"]; !ok {
			t.Errorf("expected Due date property, got %v", props)
		}
	})
}

func TestParsePage(t *testing.T) {
	page := &Page{
		ID:             "11111111-2222-3333-4444-555555555555",
		URL:            "https://www.notion.so/Plan-1111",
		LastEditedTime: "2025-06-02T10:00:00.000Z",
		Parent:         PageParent{Type: "data_source_id", DataSourceID: "ds1"},
		Properties: map[string]PropertyValue{
			"Title":       {Type: "title", Title: []RichText{{PlainText: "Plan"}}},
			"Status":      {Type: "status", Status: &Option{Name: "In progress"}},
			"Due date":    {Type: "date", Date: &DateValue{Start: "2025-06-01", End: "2025-06-03"}},
			"Reminder":    {Type: "date", Date: &DateValue{Start: "2025-06-01T08:00:00Z"}},
			"Tags":        {Type: "select", Select: &Option{Name: "Work"}},
			"Description": {Type: "rich_text", RichText: []RichText{{PlainText: "quarterly planning"}}},
		},
	}

	parsed := ParsePage(page, "Tasks")
	if parsed == nil {
		t.Fatal("expected a task")
	}
	if parsed.NotionID != page.ID {
		t.Errorf("unexpected id %q", parsed.NotionID)
	}
	if parsed.Title != "Plan" {
		t.Errorf("unexpected title %q", parsed.Title)
	}
	if parsed.Status != "In progress" {
		t.Errorf("unexpected status %q", parsed.Status)
	}
	if parsed.StartDate != "2025-06-01" || parsed.EndDate != "2025-06-03" {
		t.Errorf("unexpected dates %q..%q", parsed.StartDate, parsed.EndDate)
	}
	if parsed.Reminder != "2025-06-01T08:00:00Z" {
		t.Errorf("unexpected reminder %q", parsed.Reminder)
	}
	if parsed.Category != "Work" || parsed.CategoryLabel != "Tags" {
		t.Errorf("unexpected category %q (%q)", parsed.Category, parsed.CategoryLabel)
	}
	if parsed.Description != "quarterly planning" {
		t.Errorf("unexpected description %q", parsed.Description)
	}
	if parsed.DatabaseID != "ds1" || parsed.DatabaseTitle != "Tasks" {
		t.Errorf("unexpected database %q (%q)", parsed.DatabaseID, parsed.DatabaseTitle)
	}
	if parsed.LastEdited.IsZero() {
		t.Error("expected last edited time")
	}
}

func TestParsePageWithoutTitle(t *testing.T) {
	page := &Page{
		ID: "p1",
		Properties: map[string]PropertyValue{
			"Date": {Type: "date", Date: &DateValue{Start: "2025-06-01"}},
		},
	}
	if parsed := ParsePage(page, ""); parsed != nil {
		t.Errorf("expected nil for page without a title property, got %+v", parsed)
	}
}

func TestMaxLastEdited(t *testing.T) {
	pages := []*Page{
		{LastEditedTime: "2025-06-01T10:00:00Z"},
		{LastEditedTime: "2025-06-02T08:30:00.000Z"},
		{LastEditedTime: ""},
	}
	if got := MaxLastEdited(pages); got != "2025-06-02T08:30:00Z" {
		t.Errorf("unexpected max %q", got)
	}
	if got := MaxLastEdited(nil); got != "" {
		t.Errorf("expected empty for no pages, got %q", got)
	}
}

func TestCreatePage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/data_sources/ds1":
			json.NewEncoder(w).Encode(DataSource{
				ID: "ds1",
				Properties: map[string]PropertySchema{
					"Title":  {Name: "Title", Type: "title"},
					"Status": {Name: "Status", Type: "status", Status: &optionList{Options: []Option{{Name: "Todo"}}}},
					"Date":   {Name: "Date", Type: "date"},
				},
			})
		case "/v1/pages":
			var payload struct {
				Parent     map[string]any `json:"parent"`
				Properties map[string]any `json:"properties"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			if payload.Parent["data_source_id"] != "ds1" {
				t.Errorf("unexpected parent %v", payload.Parent)
			}
			if _, ok := payload.Properties["Title"]; !ok {
				t.Errorf("expected Title property, got %v", payload.Properties)
			}
			w.Write([]byte(`{"id":"new-page"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	page, err := client.CreatePage(context.Background(), "ds1", &TaskProperties{Title: "Buy milk", Status: "Todo", StartDate: "2025-06-01"})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if page.ID != "new-page" {
		t.Errorf("unexpected page id %q", page.ID)
	}
}
