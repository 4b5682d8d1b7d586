// Package engine reconciles Doc-store tasks with CalDAV events: it gathers
// both sides (incrementally when sync tokens allow), decides a per-item
// action, applies it over a bounded worker pool, and maintains the mapping
// records and sync cursors in the state store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/caldav"
	"github.com/macjediwizard/notiondavsync/internal/ics"
	"github.com/macjediwizard/notiondavsync/internal/notion"
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/task"
)

var (
	// ErrSyncInFlight means another pass holds the single-flight lock.
	ErrSyncInFlight = errors.New("a sync pass is already running")
	// ErrNotProvisioned means no calendar collection has been ensured yet.
	ErrNotProvisioned = errors.New("no calendar configured; provisioning has not run")
)

const (
	defaultWorkers = 8
	passTimeout    = 10 * time.Minute
)

// CalendarClient is the CalDAV capability the engine depends on.
type CalendarClient interface {
	ListEventsDelta(ctx context.Context, calendarHref, syncToken string) (*caldav.DeltaOutcome, error)
	ListEventHrefs(ctx context.Context, calendarHref string) ([]caldav.EventRef, error)
	GetEvent(ctx context.Context, href string) (string, string, error)
	PutEvent(ctx context.Context, href, icsText string) (string, error)
	DeleteEvent(ctx context.Context, href string) error
	SetCalendarColor(ctx context.Context, calendarHref, color string) error
	TestConnection(ctx context.Context) error
}

// DocStore is the Doc-store capability the engine depends on.
type DocStore interface {
	ListDataSources(ctx context.Context) ([]*notion.DataSource, error)
	QueryPages(ctx context.Context, dsID, since string) ([]*notion.Page, error)
	GetPage(ctx context.Context, pageID string) (*notion.Page, error)
	CreatePage(ctx context.Context, dsID string, t *notion.TaskProperties) (*notion.Page, error)
	UpdatePage(ctx context.Context, pageID string, t *notion.TaskProperties, dsID string) error
	Ping(ctx context.Context) error
}

// ActivityTracker observes pass lifecycle events for the admin surface.
type ActivityTracker interface {
	StartPass(trigger string)
	SetPhase(phase string)
	FinishPass(counters map[string]int, err error)
}

// Engine drives reconciliation passes for one account.
type Engine struct {
	store    *store.Store
	cal      CalendarClient
	docs     DocStore
	codec    *ics.Codec
	workers  int
	now      func() time.Time
	activity ActivityTracker

	// passMu is the single-flight gate shared by the scheduler tick,
	// admin triggers, and webhook full-sync kickoff.
	passMu sync.Mutex

	bgMu      sync.Mutex
	bgRunning bool
	bgDone    chan struct{}
}

// New creates an engine. workers bounds the apply-phase fan-out; zero
// selects the default.
func New(st *store.Store, cal CalendarClient, docs DocStore, codec *ics.Codec, workers int) *Engine {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		store:   st,
		cal:     cal,
		docs:    docs,
		codec:   codec,
		workers: workers,
		now:     time.Now,
	}
}

// SetActivity attaches a pass observer. Call before Start; the engine does
// not guard against swapping it mid-pass.
func (e *Engine) SetActivity(tracker ActivityTracker) {
	e.activity = tracker
}

// PassOptions selects the direction and gathering mode of one pass.
type PassOptions struct {
	DocWrites   bool
	CalWrites   bool
	Incremental bool
	Trigger     string
}

// FullSync runs an authoritative bidirectional pass and stamps
// last_full_sync on success.
func (e *Engine) FullSync(ctx context.Context, trigger string) (*Counters, error) {
	counters, err := e.Sync(ctx, PassOptions{DocWrites: true, CalWrites: true, Trigger: trigger})
	if err != nil {
		return counters, err
	}
	if err := e.store.SetSetting("last_full_sync", e.now().UTC().Format(time.RFC3339)); err != nil {
		log.Printf("[engine] failed to persist last_full_sync: %v", err)
	}
	return counters, nil
}

// ScheduleFullSync starts a background authoritative pass at most once
// concurrently. A second call while one runs joins the in-flight run: the
// returned channel closes when that run finishes.
func (e *Engine) ScheduleFullSync(trigger string) <-chan struct{} {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()

	if e.bgRunning {
		return e.bgDone
	}

	done := make(chan struct{})
	e.bgRunning = true
	e.bgDone = done

	go func() {
		defer func() {
			e.bgMu.Lock()
			e.bgRunning = false
			e.bgMu.Unlock()
			close(done)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
		defer cancel()

		if _, err := e.FullSync(ctx, trigger); err != nil && !errors.Is(err, ErrSyncInFlight) {
			log.Printf("[engine] background full sync failed: %v", err)
		}
	}()

	return done
}

// Sync runs one reconciliation pass under the single-flight lock.
func (e *Engine) Sync(ctx context.Context, opts PassOptions) (*Counters, error) {
	if !e.passMu.TryLock() {
		return nil, ErrSyncInFlight
	}
	defer e.passMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	started := e.now().UTC()
	if e.activity != nil {
		e.activity.StartPass(triggerName(opts.Trigger))
	}
	counters, err := e.runPass(ctx, opts)
	if e.activity != nil {
		e.activity.FinishPass(counterMap(counters), err)
	}
	e.logPass(opts, started, counters, err)
	return counters, err
}

func triggerName(trigger string) string {
	if trigger == "" {
		return "manual"
	}
	return trigger
}

func counterMap(counters *Counters) map[string]int {
	if counters == nil {
		return nil
	}
	return counters.ToMap()
}

// runPass is the gather / decide / apply / commit pipeline.
func (e *Engine) runPass(ctx context.Context, opts PassOptions) (*Counters, error) {
	settings := e.store.LoadSettings()
	if settings.CalendarHref == "" {
		return nil, ErrNotProvisioned
	}

	now := e.now().UTC()
	loc := task.ResolveDateOnlyLocation(settings.DateOnlyTimezone, settings.CalendarTimezone)
	counters := &Counters{}

	doc, err := e.gatherDoc(ctx, settings, opts, now, loc, counters)
	if err != nil {
		return counters, err
	}

	cal, err := e.gatherCalDAV(ctx, settings, opts, now, loc, counters)
	if err != nil {
		return counters, err
	}

	// CalDAV tombstones resolve and drop their mappings before the union
	// so deleted events never resurrect through a stale mapping.
	for _, href := range cal.deleted {
		e.applyTombstone(href)
	}

	keys := make(map[string]struct{}, len(doc.tasks)+len(cal.events))
	for k := range doc.tasks {
		keys[k] = struct{}{}
	}
	for k := range cal.events {
		keys[k] = struct{}{}
	}

	if e.activity != nil {
		e.activity.SetPhase("applying")
	}
	e.applyAll(ctx, settings, opts, doc, cal, keys, counters)

	// Token commit. The Doc cursor advances to the newest edit observed;
	// the CalDAV token rotates only when the REPORT path produced one.
	if doc.maxEdited != "" {
		if err := e.store.SetSetting("notion_sync_token", doc.maxEdited); err != nil {
			log.Printf("[engine] failed to persist notion_sync_token: %v", err)
		}
	}
	if cal.nextToken != "" {
		if err := e.store.SetSetting("caldav_sync_token", cal.nextToken); err != nil {
			log.Printf("[engine] failed to persist caldav_sync_token: %v", err)
		}
	}

	return counters, nil
}

// docGather is the Doc-store side of the gather phase.
type docGather struct {
	tasks       map[string]*task.Task
	incremental bool
	maxEdited   string
	// defaultDS receives pages created from CalDAV-side events.
	defaultDS string
}

func (e *Engine) gatherDoc(ctx context.Context, settings *store.Settings, opts PassOptions, now time.Time, loc *time.Location, counters *Counters) (*docGather, error) {
	g := &docGather{tasks: make(map[string]*task.Task)}

	since := ""
	if opts.Incremental && settings.NotionSyncToken != "" {
		since = settings.NotionSyncToken
		g.incremental = true
	}

	sources, err := e.docs.ListDataSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	var maxEdited time.Time
	for _, ds := range sources {
		if !notion.IsTaskSchema(ds.Properties) {
			continue
		}
		if g.defaultDS == "" {
			g.defaultDS = ds.ID
		}

		pages, err := e.docs.QueryPages(ctx, ds.ID, since)
		if err != nil {
			log.Printf("[engine] failed to query data source %s: %v", ds.ID, err)
			counters.recordError()
			continue
		}

		for _, page := range pages {
			if page.Archived || page.InTrash {
				continue
			}
			t := notion.ParsePage(page, ds.TitleText())
			if t == nil {
				continue
			}
			t.Status = task.EffectiveStatus(t, now, loc)
			g.tasks[t.NotionID] = t
			if t.LastEdited.After(maxEdited) {
				maxEdited = t.LastEdited
			}
		}
	}

	if !maxEdited.IsZero() {
		g.maxEdited = maxEdited.UTC().Format(time.RFC3339)
	}
	return g, nil
}

// calEvent is the CalDAV side of one item: the parsed task plus the raw
// resource needed for conflict-safe rewrites.
type calEvent struct {
	task *task.Task
	href string
	etag string
	ics  string
	uid  string
}

// calGather is the CalDAV side of the gather phase.
type calGather struct {
	events      map[string]*calEvent
	deleted     []string
	incremental bool
	nextToken   string
}

func (e *Engine) gatherCalDAV(ctx context.Context, settings *store.Settings, opts PassOptions, now time.Time, loc *time.Location, counters *Counters) (*calGather, error) {
	g := &calGather{events: make(map[string]*calEvent)}

	token := ""
	if opts.Incremental && settings.CalDAVSyncToken != "" {
		token = settings.CalDAVSyncToken
		g.incremental = true
	}

	outcome, err := e.cal.ListEventsDelta(ctx, settings.CalendarHref, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	// A stale-token downgrade produced a full authoritative listing.
	if outcome.Stale {
		g.incremental = false
	}
	g.nextToken = outcome.Token
	g.deleted = outcome.Deleted

	for _, changed := range outcome.Changed {
		if changed.ICS == "" {
			continue
		}
		parsed, err := ics.Parse(changed.ICS)
		if err != nil {
			log.Printf("[engine] failed to parse event %s: %v", changed.Href, err)
			counters.recordError()
			continue
		}
		if parsed.Task.NotionID == "" {
			// Not minted by this engine; leave foreign events alone.
			continue
		}
		t := parsed.Task
		t.Status = task.EffectiveStatus(&t, now, loc)
		g.events[t.NotionID] = &calEvent{
			task: &t,
			href: changed.Href,
			etag: changed.ETag,
			ics:  changed.ICS,
			uid:  parsed.UID,
		}
	}

	return g, nil
}

// applyTombstone drops the mapping behind a deleted event resource. The Doc
// store is never mutated for a tombstone.
func (e *Engine) applyTombstone(href string) {
	pageID := pageIDFromHref(href)
	if pageID == "" {
		return
	}

	rec, err := e.store.MappingByCalDAVUID(ics.BuildUID(pageID))
	if errors.Is(err, store.ErrNotFound) {
		rec, err = e.store.MappingByNotionID(pageID)
	}
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[engine] failed to resolve mapping for tombstone %s: %v", href, err)
		}
		return
	}

	if err := e.store.DeleteMapping(rec); err != nil {
		log.Printf("[engine] failed to delete mapping for tombstone %s: %v", href, err)
		return
	}
	log.Printf("[engine] event %s deleted on CalDAV, mapping removed", href)
}

// logPass writes the pass summary to the log and the sync log.
func (e *Engine) logPass(opts PassOptions, started time.Time, counters *Counters, err error) {
	finished := e.now().UTC()
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	if err != nil {
		log.Printf("[engine] pass (%s) failed after %v: %v", trigger, finished.Sub(started).Round(time.Millisecond), err)
	} else {
		log.Printf("[engine] pass (%s) finished in %v: %s", trigger, finished.Sub(started).Round(time.Millisecond), counters)
	}

	rec := &store.PassRecord{
		Trigger:    trigger,
		StartedAt:  started.Format(time.RFC3339),
		FinishedAt: finished.Format(time.RFC3339),
		DurationMS: finished.Sub(started).Milliseconds(),
	}
	if counters != nil {
		rec.Counters = counters.ToMap()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if logErr := e.store.AppendSyncLog(rec); logErr != nil {
		log.Printf("[engine] failed to append sync log: %v", logErr)
	}
}

// CheckConnectivity pings both backends and reports per-side results.
func (e *Engine) CheckConnectivity(ctx context.Context) map[string]string {
	results := make(map[string]string, 2)

	if err := e.cal.TestConnection(ctx); err != nil {
		results["caldav"] = err.Error()
	} else {
		results["caldav"] = "ok"
	}

	if err := e.docs.Ping(ctx); err != nil {
		results["notion"] = err.Error()
	} else {
		results["notion"] = "ok"
	}

	return results
}

// ApplyCalendarColor pushes a color onto the calendar collection.
func (e *Engine) ApplyCalendarColor(ctx context.Context, color string) error {
	settings := e.store.LoadSettings()
	if settings.CalendarHref == "" {
		return ErrNotProvisioned
	}
	return e.cal.SetCalendarColor(ctx, settings.CalendarHref, color)
}
