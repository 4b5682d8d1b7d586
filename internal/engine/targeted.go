package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/macjediwizard/notiondavsync/internal/caldav"
	"github.com/macjediwizard/notiondavsync/internal/notion"
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/task"
)

// SyncPages refreshes the events behind specific pages, typically the ones
// named by a webhook delivery. It returns the page identifiers whose events
// were written or removed. Per-page failures are logged and skipped so one
// bad page does not block the rest of a delivery.
func (e *Engine) SyncPages(ctx context.Context, pageIDs []string) ([]string, error) {
	settings := e.store.LoadSettings()
	if settings.CalendarHref == "" {
		return nil, ErrNotProvisioned
	}

	now := e.now().UTC()
	loc := task.ResolveDateOnlyLocation(settings.DateOnlyTimezone, settings.CalendarTimezone)

	updated := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		changed, err := e.syncPage(ctx, settings, id, now, loc)
		if err != nil {
			log.Printf("[engine] targeted sync of page %s failed: %v", id, err)
			continue
		}
		if changed {
			updated = append(updated, id)
		}
	}
	return updated, nil
}

// syncPage reconciles one page against its event. Gone, trashed, and
// dateless pages tear the event down; everything else is rewritten from the
// current page state.
func (e *Engine) syncPage(ctx context.Context, settings *store.Settings, pageID string, now time.Time, loc *time.Location) (bool, error) {
	page, err := e.docs.GetPage(ctx, pageID)
	if err != nil && !errors.Is(err, notion.ErrNotFound) {
		return false, err
	}

	var t *task.Task
	if err == nil && !page.Archived && !page.InTrash {
		t = notion.ParsePage(page, "")
	}

	if t == nil || !t.HasStartDate() {
		return e.removePageEvent(ctx, settings, pageID)
	}

	t.Status = task.EffectiveStatus(t, now, loc)

	href := eventHref(settings.CalendarHref, pageID)
	existing, _, getErr := e.cal.GetEvent(ctx, href)
	if getErr != nil && !errors.Is(getErr, caldav.ErrNotFound) {
		return false, getErr
	}

	body, err := e.render(existing, t)
	if err != nil {
		return false, err
	}
	etag, err := e.cal.PutEvent(ctx, href, body)
	if err != nil {
		return false, err
	}
	if err := e.saveMapping(e.lookupMapping(pageID), pageID, t, etag); err != nil {
		return false, err
	}
	log.Printf("[engine] page %s refreshed", pageID)
	return true, nil
}

// removePageEvent deletes the event and mapping behind a page that no longer
// warrants one. Reports whether anything actually existed.
func (e *Engine) removePageEvent(ctx context.Context, settings *store.Settings, pageID string) (bool, error) {
	mapping := e.lookupMapping(pageID)

	href := eventHref(settings.CalendarHref, pageID)
	if err := e.cal.DeleteEvent(ctx, href); err != nil {
		return false, err
	}
	if mapping == nil {
		return false, nil
	}
	if err := e.store.DeleteMapping(mapping); err != nil {
		return false, err
	}
	log.Printf("[engine] page %s gone, event removed", pageID)
	return true, nil
}

// RewriteCalendar pushes every started task onto the calendar and removes
// engine-minted events whose page no longer exists. Foreign events, ones
// this engine never created, are left untouched.
func (e *Engine) RewriteCalendar(ctx context.Context, trigger string) (*Counters, error) {
	if !e.passMu.TryLock() {
		return nil, ErrSyncInFlight
	}
	defer e.passMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	started := e.now().UTC()
	if e.activity != nil {
		e.activity.StartPass(triggerName(trigger))
	}
	counters, err := e.runRewrite(ctx)
	if e.activity != nil {
		e.activity.FinishPass(counterMap(counters), err)
	}
	e.logPass(PassOptions{Trigger: trigger}, started, counters, err)
	return counters, err
}

func (e *Engine) runRewrite(ctx context.Context) (*Counters, error) {
	settings := e.store.LoadSettings()
	if settings.CalendarHref == "" {
		return nil, ErrNotProvisioned
	}

	now := e.now().UTC()
	loc := task.ResolveDateOnlyLocation(settings.DateOnlyTimezone, settings.CalendarTimezone)
	counters := &Counters{}

	doc, err := e.gatherDoc(ctx, settings, PassOptions{}, now, loc, counters)
	if err != nil {
		return counters, err
	}

	for id, t := range doc.tasks {
		if !t.HasStartDate() {
			continue
		}
		if err := e.writeCalDAV(ctx, settings, id, t, nil, e.lookupMapping(id)); err != nil {
			log.Printf("[engine] rewrite of %s failed: %v", id, err)
			counters.recordError()
			continue
		}
		counters.record(ActionUpdateCalDAV)
	}

	if err := e.sweepStaleEvents(ctx, settings, doc, counters); err != nil {
		return counters, err
	}
	return counters, nil
}

// sweepStaleEvents deletes calendar events this engine owns whose page is
// gone from the Doc store. Ownership is proven by a mapping record or by the
// resource name being a page identifier.
func (e *Engine) sweepStaleEvents(ctx context.Context, settings *store.Settings, doc *docGather, counters *Counters) error {
	refs, err := e.cal.ListEventHrefs(ctx, settings.CalendarHref)
	if err != nil {
		return fmt.Errorf("failed to list calendar for sweep: %w", err)
	}

	for _, ref := range refs {
		id := pageIDFromHref(ref.Href)
		if id == "" {
			continue
		}
		if _, live := doc.tasks[id]; live {
			continue
		}

		mapping := e.lookupMapping(id)
		if mapping == nil {
			// Without a mapping, only touch resources named like page ids.
			if _, err := uuid.Parse(id); err != nil {
				continue
			}
		}

		if err := e.cal.DeleteEvent(ctx, ref.Href); err != nil {
			log.Printf("[engine] sweep of %s failed: %v", ref.Href, err)
			counters.recordError()
			continue
		}
		if mapping != nil {
			if err := e.store.DeleteMapping(mapping); err != nil {
				log.Printf("[engine] failed to drop mapping for %s: %v", id, err)
			}
		}
		counters.record(ActionDeleteCalDAV)
		log.Printf("[engine] swept stale event %s", ref.Href)
	}
	return nil
}
