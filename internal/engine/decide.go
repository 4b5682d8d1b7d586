package engine

import (
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/task"
)

// Action is the per-item outcome of the decide phase.
type Action string

const (
	ActionNoop         Action = "noop"
	ActionCreateCalDAV Action = "create_caldav"
	ActionCreateNotion Action = "create_notion"
	ActionUpdateCalDAV Action = "update_caldav"
	ActionUpdateNotion Action = "update_notion"
	ActionDeleteCalDAV Action = "delete_caldav"
	ActionRecalibrate  Action = "recalibrate"
	ActionSkip         Action = "skipped"
)

// Decision is one reconciliation verdict: the action to take and the task
// whose content wins.
type Decision struct {
	Action Action
	Detail string
	Winner *task.Task
}

// decide compares the Doc-side and CalDAV-side views of one item against
// the stored mapping and picks an action. It is a pure function: hashes and
// timestamps are carried on the inputs, never read from a clock or store.
func decide(mapping *store.MappingRecord, n, c *task.Task, notionHash, calHash string) Decision {
	switch {
	case mapping == nil:
		return decideUnmapped(n, c)
	case n != nil && c == nil:
		if !n.HasStartDate() {
			return Decision{Action: ActionNoop, Detail: "no changes (task has no start date)"}
		}
		return Decision{Action: ActionCreateCalDAV, Detail: "Notion changed (event missing, recreating)", Winner: n}
	case n == nil && c != nil:
		return Decision{Action: ActionDeleteCalDAV, Detail: "Notion page removed"}
	case n == nil && c == nil:
		// Both sides vanished between gather and decide.
		return Decision{Action: ActionNoop, Detail: "no changes"}
	}

	notionDiverged := notionHash != mapping.NotionHash
	calDiverged := calHash != mapping.CalDAVHash

	switch {
	case notionHash == calHash && !notionDiverged && !calDiverged:
		return Decision{Action: ActionNoop, Detail: "no changes"}
	case notionHash == calHash:
		return Decision{Action: ActionRecalibrate, Detail: "no changes (stored hashes stale)", Winner: n}
	case calDiverged && !notionDiverged:
		return Decision{Action: ActionUpdateNotion, Detail: "CalDAV changed", Winner: c}
	case notionDiverged && !calDiverged:
		return Decision{Action: ActionUpdateCalDAV, Detail: "Notion changed", Winner: n}
	default:
		// Both sides diverged; the newer edit wins and Notion wins ties.
		if c.LastEdited.After(n.LastEdited) {
			return Decision{Action: ActionUpdateNotion, Detail: "Conflict (CalDAV newer)", Winner: c}
		}
		return Decision{Action: ActionUpdateCalDAV, Detail: "Conflict (Notion newer)", Winner: n}
	}
}

// decideUnmapped handles items with no mapping record yet.
func decideUnmapped(n, c *task.Task) Decision {
	switch {
	case n != nil && c == nil:
		if !n.HasStartDate() {
			return Decision{Action: ActionNoop, Detail: "no changes (task has no start date)"}
		}
		return Decision{Action: ActionCreateCalDAV, Detail: "Notion changed (new task)", Winner: n}
	case n == nil && c != nil:
		return Decision{Action: ActionCreateNotion, Detail: "CalDAV changed (new event)", Winner: c}
	case n != nil && c != nil:
		if c.LastEdited.After(n.LastEdited) {
			return Decision{Action: ActionUpdateNotion, Detail: "Conflict (unmapped, CalDAV newer)", Winner: c}
		}
		return Decision{Action: ActionUpdateCalDAV, Detail: "Conflict (unmapped, Notion newer)", Winner: n}
	default:
		return Decision{Action: ActionNoop, Detail: "no changes"}
	}
}

// applyIncrementalSafety suppresses deletions that an incremental gather
// cannot justify: absence from a token-filtered result set does not prove
// the item was deleted.
func applyIncrementalSafety(d Decision, docIncremental, calIncremental bool) Decision {
	if d.Action == ActionDeleteCalDAV && docIncremental {
		return Decision{Action: ActionSkip, Detail: "delete suppressed (incremental Doc gather)"}
	}
	// delete_notion is reserved; the table never emits it, but the
	// suppression rule is symmetric.
	_ = calIncremental
	return d
}
