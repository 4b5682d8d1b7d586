package task

import (
	"testing"
	"time"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"canonical passes through", "Todo", "Todo"},
		{"done maps to completed", "Done", "Completed"},
		{"not started maps to todo", "Not started", "Todo"},
		{"to do maps to todo", "To Do", "Todo"},
		{"pinned maps to in progress", "Pinned", "In progress"},
		{"discarded maps to cancelled", "Discarded", "Cancelled"},
		{"case insensitive", "dOnE", "Completed"},
		{"whitespace trimmed", "  Todo  ", "Todo"},
		{"unknown kept trimmed", " Blocked ", "Blocked"},
		{"empty stays empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeStatus(tt.input); got != tt.expected {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStatusEmoji(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		style    string
		expected string
	}{
		{"todo emoji style", "Todo", StyleEmoji, "⬜"},
		{"in progress emoji style", "In progress", StyleEmoji, "⚙️"},
		{"overdue emoji style", "Overdue", StyleEmoji, "⚠️"},
		{"todo symbol style", "Todo", StyleSymbol, "○"},
		{"cancelled symbol style", "Cancelled", StyleSymbol, "⊗"},
		{"alias resolves first", "Done", StyleEmoji, "✅"},
		{"unknown status yields empty", "Blocked", StyleEmoji, ""},
		{"unknown style yields empty", "Todo", "fancy", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusEmoji(tt.status, tt.style); got != tt.expected {
				t.Errorf("StatusEmoji(%q, %q) = %q, want %q", tt.status, tt.style, got, tt.expected)
			}
		})
	}
}

func TestResolveEmojiStyle(t *testing.T) {
	if style, err := ResolveEmojiStyle(" Emoji "); err != nil || style != StyleEmoji {
		t.Errorf("expected emoji style, got %q err %v", style, err)
	}
	if style, err := ResolveEmojiStyle("symbol"); err != nil || style != StyleSymbol {
		t.Errorf("expected symbol style, got %q err %v", style, err)
	}
	if _, err := ResolveEmojiStyle(""); err == nil {
		t.Error("expected error for empty style")
	}
	if _, err := ResolveEmojiStyle("fancy"); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestExtractSummaryStatus(t *testing.T) {
	tests := []struct {
		name          string
		summary       string
		expectedState string
		expectedTitle string
	}{
		{"symbol with space", "○ Buy milk", "Todo", "Buy milk"},
		{"emoji without space", "⚠️Pay rent", "Overdue", "Pay rent"},
		{"single rune emoji without space", "⬜Plan", "Todo", "Plan"},
		{"multi rune emoji without space", "⚙️Fix the bug", "In progress", "Fix the bug"},
		{"enclosed check mark", "✓⃝ Ship release", "Completed", "Ship release"},
		{"no status prefix", "Plain summary", "", "Plain summary"},
		{"empty summary", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, title := ExtractSummaryStatus(tt.summary)
			if status != tt.expectedState {
				t.Errorf("status = %q, want %q", status, tt.expectedState)
			}
			if title != tt.expectedTitle {
				t.Errorf("title = %q, want %q", title, tt.expectedTitle)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain title unchanged", "Buy milk", "Buy milk"},
		{"leading emoji stripped", "⬜ Plan trip", "Plan trip"},
		{"emoji without space stripped", "✅Ship it", "Ship it"},
		{"status word with colon", "Todo: Plan", "Plan"},
		{"status word with dash", "To Do - groceries", "groceries"},
		{"status word with en dash", "Not started – kickoff", "kickoff"},
		{"bare status word becomes empty", "Done", ""},
		{"similar word untouched", "Today's plan", "Today's plan"},
		{"emoji then status word", "⚠️ Overdue: taxes", "taxes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanTitle(tt.input); got != tt.expected {
				t.Errorf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCanonicalHash(t *testing.T) {
	base := func() *Task {
		return &Task{
			NotionID:    "11111111-2222-3333-4444-555555555555",
			Title:       "Plan",
			Status:      "In progress",
			StartDate:   "2025-06-01",
			EndDate:     "2025-06-02",
			Category:    "Work",
			Description: "details",
		}
	}

	t.Run("equal content hashes equal", func(t *testing.T) {
		if CanonicalHash(base()) != CanonicalHash(base()) {
			t.Error("expected identical hashes for identical content")
		}
	})

	t.Run("status alias normalized", func(t *testing.T) {
		a, b := base(), base()
		a.Status = "Done"
		b.Status = "Completed"
		if CanonicalHash(a) != CanonicalHash(b) {
			t.Error("expected alias and canonical status to hash equal")
		}
	})

	t.Run("title change diverges", func(t *testing.T) {
		changed := base()
		changed.Title = "Plan v2"
		if CanonicalHash(base()) == CanonicalHash(changed) {
			t.Error("expected different hashes after title change")
		}
	})

	t.Run("reminder excluded", func(t *testing.T) {
		withReminder := base()
		withReminder.Reminder = "2025-06-01T08:30:00Z"
		if CanonicalHash(base()) != CanonicalHash(withReminder) {
			t.Error("expected reminder to be excluded from the hash")
		}
	})

	t.Run("offset variations hash equal", func(t *testing.T) {
		local, utc := base(), base()
		local.StartDate = "2025-06-01T10:00:00+02:00"
		local.EndDate = ""
		utc.StartDate = "2025-06-01T08:00:00Z"
		utc.EndDate = ""
		if CanonicalHash(local) != CanonicalHash(utc) {
			t.Error("expected offset and UTC forms of one instant to hash equal")
		}
	})

	t.Run("missing end collapses to start", func(t *testing.T) {
		noEnd, sameEnd := base(), base()
		noEnd.EndDate = ""
		sameEnd.EndDate = sameEnd.StartDate
		if CanonicalHash(noEnd) != CanonicalHash(sameEnd) {
			t.Error("expected empty end and end==start to hash equal")
		}
	})

	t.Run("nil task hashes empty", func(t *testing.T) {
		if CanonicalHash(nil) != "" {
			t.Error("expected empty hash for nil task")
		}
	})
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2025, 11, 10, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		task     *Task
		loc      *time.Location
		expected bool
	}{
		{
			name:     "timed due in the past",
			task:     &Task{Status: "In progress", StartDate: "2025-11-10T08:00:00Z", EndDate: "2025-11-10T09:00:00Z"},
			expected: true,
		},
		{
			name:     "timed due in the future",
			task:     &Task{Status: "In progress", StartDate: "2025-11-10T19:00:00Z"},
			expected: false,
		},
		{
			name:     "completed never overdue",
			task:     &Task{Status: "Completed", EndDate: "2025-11-01T00:00:00Z"},
			expected: false,
		},
		{
			name:     "done alias never overdue",
			task:     &Task{Status: "Done", EndDate: "2025-11-01T00:00:00Z"},
			expected: false,
		},
		{
			name:     "cancelled never overdue",
			task:     &Task{Status: "Cancelled", EndDate: "2025-11-01T00:00:00Z"},
			expected: false,
		},
		{
			name:     "no dates never overdue",
			task:     &Task{Status: "Todo"},
			expected: false,
		},
		{
			name:     "date-only within utc day",
			task:     &Task{Status: "Todo", StartDate: "2025-11-10"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := tt.loc
			if loc == nil {
				loc = time.UTC
			}
			if got := IsOverdue(tt.task, now, loc); got != tt.expected {
				t.Errorf("IsOverdue = %v, want %v", got, tt.expected)
			}
		})
	}

	t.Run("date-only cutoff follows configured timezone", func(t *testing.T) {
		shanghai, err := time.LoadLocation("Asia/Shanghai")
		if err != nil {
			t.Fatalf("failed to load timezone: %v", err)
		}
		due := &Task{Status: "Todo", StartDate: "2025-11-10"}

		// End of day in Shanghai (15:59:59Z) precedes 18:00Z.
		if !IsOverdue(due, now, shanghai) {
			t.Error("expected overdue with Shanghai cutoff")
		}
		// End of day UTC (23:59:59Z) has not passed yet.
		if IsOverdue(due, now, time.UTC) {
			t.Error("expected not overdue with UTC cutoff")
		}
	})
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2025, 11, 10, 18, 0, 0, 0, time.UTC)

	overdue := &Task{Status: "In progress", EndDate: "2025-11-09T10:00:00Z"}
	if got := EffectiveStatus(overdue, now, time.UTC); got != StatusOverdue {
		t.Errorf("expected Overdue, got %q", got)
	}

	current := &Task{Status: "In progress", StartDate: "2025-11-11T10:00:00Z"}
	if got := EffectiveStatus(current, now, time.UTC); got != StatusInProgress {
		t.Errorf("expected In progress, got %q", got)
	}

	blank := &Task{Title: "untracked"}
	if got := EffectiveStatus(blank, now, time.UTC); got != StatusTodo {
		t.Errorf("expected Todo default, got %q", got)
	}
}

func TestResolveDateOnlyLocation(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		loc := ResolveDateOnlyLocation("Asia/Shanghai", "Europe/Berlin")
		if loc.String() != "Asia/Shanghai" {
			t.Errorf("expected Asia/Shanghai, got %s", loc)
		}
	})

	t.Run("falls back to calendar timezone", func(t *testing.T) {
		loc := ResolveDateOnlyLocation("", "Europe/Berlin")
		if loc.String() != "Europe/Berlin" {
			t.Errorf("expected Europe/Berlin, got %s", loc)
		}
	})

	t.Run("invalid names fall back to UTC", func(t *testing.T) {
		loc := ResolveDateOnlyLocation("Not/AZone", "Also/Invalid")
		if loc != time.UTC {
			t.Errorf("expected UTC, got %s", loc)
		}
	})
}

func TestParseTime(t *testing.T) {
	t.Run("offset form", func(t *testing.T) {
		parsed, err := ParseTime("2025-06-01T10:00:00+02:00")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !parsed.UTC().Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected instant: %v", parsed)
		}
	})

	t.Run("fractional seconds", func(t *testing.T) {
		if _, err := ParseTime("2025-06-01T10:00:00.123Z"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("naive form treated as UTC", func(t *testing.T) {
		parsed, err := ParseTime("2025-06-01T10:00:00")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !parsed.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected instant: %v", parsed)
		}
	})

	t.Run("garbage fails", func(t *testing.T) {
		if _, err := ParseTime("not-a-time"); err == nil {
			t.Error("expected error")
		}
	})
}
