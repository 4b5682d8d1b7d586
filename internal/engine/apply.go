package engine

import (
	"context"
	"errors"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/caldav"
	"github.com/macjediwizard/notiondavsync/internal/ics"
	"github.com/macjediwizard/notiondavsync/internal/notion"
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/task"
)

// applyAll reconciles every gathered key over the worker pool. Each key is
// decided and applied exactly once.
func (e *Engine) applyAll(ctx context.Context, settings *store.Settings, opts PassOptions, doc *docGather, cal *calGather, keys map[string]struct{}, counters *Counters) {
	work := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range work {
				e.applyOne(ctx, settings, opts, doc, cal, k, counters)
			}
		}()
	}

	for k := range keys {
		select {
		case work <- k:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		}
	}
	close(work)
	wg.Wait()
}

// applyOne decides and applies a single item.
func (e *Engine) applyOne(ctx context.Context, settings *store.Settings, opts PassOptions, doc *docGather, cal *calGather, key string, counters *Counters) {
	n := doc.tasks[key]
	ev := cal.events[key]

	var c *task.Task
	if ev != nil {
		c = ev.task
	}

	mapping := e.lookupMapping(key)

	var notionHash, calHash string
	if n != nil {
		notionHash = task.CanonicalHash(n)
	}
	if c != nil {
		calHash = task.CanonicalHash(c)
	}

	d := decide(mapping, n, c, notionHash, calHash)
	d = applyIncrementalSafety(d, doc.incremental, cal.incremental)
	d = suppressDirection(d, opts)

	if d.Action != ActionNoop {
		log.Printf("[engine] %s: %s (%s)", key, d.Action, d.Detail)
	}

	var err error
	switch d.Action {
	case ActionNoop, ActionSkip:
		// Nothing to write.
	case ActionCreateCalDAV, ActionUpdateCalDAV:
		err = e.writeCalDAV(ctx, settings, key, d.Winner, ev, mapping)
	case ActionDeleteCalDAV:
		err = e.deleteCalDAV(ctx, settings, key, ev, mapping)
	case ActionCreateNotion:
		err = e.createNotion(ctx, doc, key, d.Winner, ev)
	case ActionUpdateNotion:
		err = e.updateNotion(ctx, key, d.Winner, n, ev, mapping)
	case ActionRecalibrate:
		err = e.recalibrate(key, d.Winner, notionHash, ev, mapping)
	}

	if err != nil {
		log.Printf("[engine] %s: %s failed: %v", key, d.Action, err)
		counters.recordError()
		return
	}
	counters.record(d.Action)
}

// suppressDirection converts write actions the pass direction forbids into
// skips. One-way passes still gather both sides so hashes stay honest.
func suppressDirection(d Decision, opts PassOptions) Decision {
	switch d.Action {
	case ActionCreateCalDAV, ActionUpdateCalDAV, ActionDeleteCalDAV:
		if !opts.CalWrites {
			return Decision{Action: ActionSkip, Detail: "calendar writes disabled this pass"}
		}
	case ActionCreateNotion, ActionUpdateNotion:
		if !opts.DocWrites {
			return Decision{Action: ActionSkip, Detail: "doc writes disabled this pass"}
		}
	}
	return d
}

// lookupMapping resolves the mapping for a page identifier through either
// index.
func (e *Engine) lookupMapping(pageID string) *store.MappingRecord {
	rec, err := e.store.MappingByNotionID(pageID)
	if errors.Is(err, store.ErrNotFound) {
		rec, err = e.store.MappingByCalDAVUID(ics.BuildUID(pageID))
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[engine] failed to load mapping for %s: %v", pageID, err)
		}
		return nil
	}
	return rec
}

// writeCalDAV renders the winner and puts it at the deterministic event
// resource. A conflicting precondition is retried once against the freshly
// fetched body.
func (e *Engine) writeCalDAV(ctx context.Context, settings *store.Settings, pageID string, winner *task.Task, ev *calEvent, mapping *store.MappingRecord) error {
	winner.Color = settings.CalendarColor

	href := eventHref(settings.CalendarHref, pageID)
	existing := ""
	if ev != nil {
		href = ev.href
		existing = ev.ics
	}

	body, err := e.render(existing, winner)
	if err != nil {
		return err
	}

	etag, err := e.cal.PutEvent(ctx, href, body)
	if errors.Is(err, caldav.ErrConflict) {
		fresh, _, getErr := e.cal.GetEvent(ctx, href)
		if getErr != nil {
			return err
		}
		body, err = e.render(fresh, winner)
		if err != nil {
			return err
		}
		etag, err = e.cal.PutEvent(ctx, href, body)
	}
	if err != nil {
		return err
	}

	return e.saveMapping(mapping, pageID, winner, etag)
}

// render updates an existing document when one is known, otherwise emits a
// fresh one.
func (e *Engine) render(existing string, t *task.Task) (string, error) {
	if existing != "" {
		body, err := e.codec.Update(existing, t)
		if err == nil {
			return body, nil
		}
		log.Printf("[engine] failed to update existing event for %s, re-emitting: %v", t.NotionID, err)
	}
	return e.codec.Emit(t)
}

// deleteCalDAV removes the event resource and its mapping.
func (e *Engine) deleteCalDAV(ctx context.Context, settings *store.Settings, pageID string, ev *calEvent, mapping *store.MappingRecord) error {
	href := eventHref(settings.CalendarHref, pageID)
	if ev != nil {
		href = ev.href
	}
	if err := e.cal.DeleteEvent(ctx, href); err != nil {
		return err
	}
	if mapping != nil {
		return e.store.DeleteMapping(mapping)
	}
	return nil
}

// createNotion materializes a foreign or recovered event as a new page in
// the first task data source. The event keeps its UID, so the mapping binds
// the new page identity to the old event identity.
func (e *Engine) createNotion(ctx context.Context, doc *docGather, key string, winner *task.Task, ev *calEvent) error {
	if doc.defaultDS == "" {
		return errors.New("no task data source available for page creation")
	}

	page, err := e.docs.CreatePage(ctx, doc.defaultDS, notion.Properties(winner))
	if err != nil {
		return err
	}

	uid := ics.BuildUID(key)
	if ev != nil && ev.uid != "" {
		uid = ev.uid
	}

	rec := &store.MappingRecord{
		NotionPageID:     page.ID,
		CalDAVUID:        uid,
		NotionHash:       task.CanonicalHash(winner),
		CalDAVHash:       task.CanonicalHash(winner),
		NotionLastEdited: winner.LastEdited.UTC().Format(time.RFC3339),
		LastSyncTime:     e.now().UTC().Format(time.RFC3339),
	}
	if ev != nil {
		rec.CalDAVETag = ev.etag
	}
	return e.store.SaveMapping(rec)
}

// updateNotion pushes the CalDAV-side content into the existing page. Fields
// the calendar cannot carry keep their Doc-side values.
func (e *Engine) updateNotion(ctx context.Context, pageID string, winner, n *task.Task, ev *calEvent, mapping *store.MappingRecord) error {
	props := notion.Properties(winner)
	if n != nil {
		if props.Category == "" {
			props.Category = n.Category
		}
		if props.Reminder == "" {
			props.Reminder = n.Reminder
		}
		if props.Description == "" {
			props.Description = n.Description
		}
	}

	dsID := ""
	if n != nil {
		dsID = n.DatabaseID
	}
	if err := e.docs.UpdatePage(ctx, pageID, props, dsID); err != nil {
		return err
	}

	etag := ""
	if ev != nil {
		etag = ev.etag
	}
	return e.saveMappingWith(mapping, pageID, winner, etag, task.CanonicalHash(winner))
}

// recalibrate refreshes the stored hashes without touching either backend.
func (e *Engine) recalibrate(pageID string, winner *task.Task, hash string, ev *calEvent, mapping *store.MappingRecord) error {
	etag := ""
	if ev != nil {
		etag = ev.etag
	}
	return e.saveMappingWith(mapping, pageID, winner, etag, hash)
}

func (e *Engine) saveMapping(mapping *store.MappingRecord, pageID string, winner *task.Task, etag string) error {
	return e.saveMappingWith(mapping, pageID, winner, etag, task.CanonicalHash(winner))
}

// saveMappingWith writes the post-apply mapping state. Both hashes converge
// on the winner's content hash since both sides now agree.
func (e *Engine) saveMappingWith(mapping *store.MappingRecord, pageID string, winner *task.Task, etag, hash string) error {
	rec := mapping
	if rec == nil {
		rec = &store.MappingRecord{}
	}
	rec.NotionPageID = pageID
	rec.CalDAVUID = ics.BuildUID(pageID)
	rec.NotionHash = hash
	rec.CalDAVHash = hash
	if etag != "" {
		rec.CalDAVETag = etag
	}
	if winner != nil && !winner.LastEdited.IsZero() {
		rec.NotionLastEdited = winner.LastEdited.UTC().Format(time.RFC3339)
	}
	rec.LastSyncTime = e.now().UTC().Format(time.RFC3339)
	return e.store.SaveMapping(rec)
}

// eventHref is the deterministic resource location for a page's event.
func eventHref(calendarHref, pageID string) string {
	return strings.TrimSuffix(calendarHref, "/") + "/" + pageID + ".ics"
}

// pageIDFromHref recovers the page identifier from an event resource path.
func pageIDFromHref(href string) string {
	base := path.Base(strings.TrimSuffix(href, "/"))
	if !strings.HasSuffix(base, ".ics") {
		return ""
	}
	return strings.TrimSuffix(base, ".ics")
}
