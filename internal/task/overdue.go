package task

import (
	"time"
)

// IsOverdue reports whether the task's due timestamp lies strictly in the
// past. Completed and Cancelled tasks are never overdue. Date-only dues use
// end-of-day in dateOnlyLoc as the cutoff.
func IsOverdue(t *Task, now time.Time, dateOnlyLoc *time.Location) bool {
	if t == nil {
		return false
	}
	switch NormalizeStatus(t.Status) {
	case StatusCompleted, StatusCancelled:
		return false
	}

	due := t.DueDate()
	if due == "" {
		return false
	}
	if dateOnlyLoc == nil {
		dateOnlyLoc = time.UTC
	}

	var dueTime time.Time
	if IsAllDay(due) {
		day, err := time.ParseInLocation("2006-01-02", due, dateOnlyLoc)
		if err != nil {
			return false
		}
		dueTime = time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, dateOnlyLoc)
	} else {
		parsed, err := ParseTime(due)
		if err != nil {
			return false
		}
		dueTime = parsed
	}

	return dueTime.UTC().Before(now.UTC())
}

// EffectiveStatus returns the display status of a task: Overdue when the
// due timestamp has passed, else the normalized stored status, defaulting
// to Todo. The emitted ICS summary uses this status; the Doc-side status
// field is never rewritten from it.
func EffectiveStatus(t *Task, now time.Time, dateOnlyLoc *time.Location) string {
	if IsOverdue(t, now, dateOnlyLoc) {
		return StatusOverdue
	}
	if t == nil {
		return StatusTodo
	}
	if status := NormalizeStatus(t.Status); status != "" {
		return status
	}
	return StatusTodo
}

// ResolveDateOnlyLocation resolves the timezone used for floating date-only
// values: the explicit override first, then the calendar timezone, then UTC.
func ResolveDateOnlyLocation(dateOnlyTimezone, calendarTimezone string) *time.Location {
	for _, name := range []string{dateOnlyTimezone, calendarTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
