package engine

import (
	"fmt"
	"sync"
)

// Counters summarizes one reconciliation pass. Synced counts the write
// actions that succeeded.
type Counters struct {
	mu sync.Mutex

	Synced       int `json:"synced"`
	Noop         int `json:"noop"`
	Recalibrate  int `json:"recalibrate"`
	Skipped      int `json:"skipped"`
	Errors       int `json:"errors"`
	CreateCalDAV int `json:"create_caldav"`
	UpdateCalDAV int `json:"update_caldav"`
	DeleteCalDAV int `json:"delete_caldav"`
	CreateNotion int `json:"create_notion"`
	UpdateNotion int `json:"update_notion"`
}

// record tallies one applied action.
func (c *Counters) record(action Action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch action {
	case ActionNoop:
		c.Noop++
	case ActionRecalibrate:
		c.Recalibrate++
	case ActionSkip:
		c.Skipped++
	case ActionCreateCalDAV:
		c.CreateCalDAV++
		c.Synced++
	case ActionUpdateCalDAV:
		c.UpdateCalDAV++
		c.Synced++
	case ActionDeleteCalDAV:
		c.DeleteCalDAV++
		c.Synced++
	case ActionCreateNotion:
		c.CreateNotion++
		c.Synced++
	case ActionUpdateNotion:
		c.UpdateNotion++
		c.Synced++
	}
}

// recordError tallies one per-item failure.
func (c *Counters) recordError() {
	c.mu.Lock()
	c.Errors++
	c.mu.Unlock()
}

// ToMap renders the counters for the sync log and admin surface.
func (c *Counters) ToMap() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{
		"synced":        c.Synced,
		"noop":          c.Noop,
		"recalibrate":   c.Recalibrate,
		"skipped":       c.Skipped,
		"errors":        c.Errors,
		"create_caldav": c.CreateCalDAV,
		"update_caldav": c.UpdateCalDAV,
		"delete_caldav": c.DeleteCalDAV,
		"create_notion": c.CreateNotion,
		"update_notion": c.UpdateNotion,
	}
}

// String renders a one-line pass summary for logs.
func (c *Counters) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("synced=%d noop=%d recalibrate=%d skipped=%d errors=%d",
		c.Synced, c.Noop, c.Recalibrate, c.Skipped, c.Errors)
}
