// Package activity tracks the in-flight sync pass and a short history of
// completed ones for the admin surface.
package activity

import (
	"sync"
	"time"
)

// PassActivity is the visible state of one sync pass.
type PassActivity struct {
	Trigger     string         `json:"trigger"`
	Status      string         `json:"status"` // "running", "completed", "partial", "error"
	Phase       string         `json:"phase,omitempty"`
	Counters    map[string]int `json:"counters,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    string         `json:"duration,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Tracker holds at most one running pass and the most recent completed ones.
type Tracker struct {
	mu        sync.RWMutex
	current   *PassActivity
	recent    []*PassActivity
	maxRecent int
	now       func() time.Time
}

// NewTracker creates an empty tracker keeping the last 20 passes.
func NewTracker() *Tracker {
	return &Tracker{
		maxRecent: 20,
		now:       time.Now,
	}
}

// StartPass begins tracking a pass. A pass already running is replaced; the
// engine's single-flight lock makes that a non-event in practice.
func (t *Tracker) StartPass(trigger string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = &PassActivity{
		Trigger:   trigger,
		Status:    "running",
		Phase:     "gathering",
		StartedAt: t.now(),
	}
}

// SetPhase updates the running pass's phase label.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		t.current.Phase = phase
	}
}

// FinishPass completes the running pass and moves it into the history.
func (t *Tracker) FinishPass(counters map[string]int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return
	}

	now := t.now()
	t.current.CompletedAt = &now
	t.current.Duration = now.Sub(t.current.StartedAt).Round(time.Millisecond).String()
	t.current.Counters = counters
	t.current.Phase = ""

	switch {
	case err != nil:
		t.current.Status = "error"
		t.current.Message = err.Error()
	case counters["errors"] > 0:
		t.current.Status = "partial"
	default:
		t.current.Status = "completed"
	}

	t.recent = append([]*PassActivity{t.current}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}
	t.current = nil
}

// Current returns a copy of the running pass, or nil when idle.
func (t *Tracker) Current() *PassActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return nil
	}
	snapshot := *t.current
	snapshot.Duration = t.now().Sub(t.current.StartedAt).Round(time.Millisecond).String()
	return &snapshot
}

// Recent returns copies of the completed passes, newest first.
func (t *Tracker) Recent() []*PassActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*PassActivity, len(t.recent))
	for i, pass := range t.recent {
		snapshot := *pass
		result[i] = &snapshot
	}
	return result
}

// Running reports whether a pass is currently tracked.
func (t *Tracker) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current != nil
}

// Snapshot bundles the current and recent passes for the admin surface.
func (t *Tracker) Snapshot() map[string]any {
	return map[string]any{
		"current": t.Current(),
		"recent":  t.Recent(),
	}
}
