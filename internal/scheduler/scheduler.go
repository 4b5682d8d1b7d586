// Package scheduler drives the periodic full sync and the sync log janitor.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/engine"
	"github.com/macjediwizard/notiondavsync/internal/store"
)

const (
	tickInterval     = time.Minute
	cleanupInterval  = 24 * time.Hour
	logRetentionDays = 30
	syncTimeout      = 10 * time.Minute
)

// Runner is the sync capability the scheduler drives.
type Runner interface {
	FullSync(ctx context.Context, trigger string) (*engine.Counters, error)
}

// AlertSink receives pass failure and recovery notifications.
type AlertSink interface {
	PassFailed(trigger string, err error)
	PassRecovered(trigger string)
}

// Scheduler runs a full sync whenever the configured interval has elapsed
// since the last one, and prunes old sync logs daily.
type Scheduler struct {
	store           *store.Store
	runner          Runner
	alerts          AlertSink
	defaultInterval time.Duration

	mu      sync.Mutex
	failing bool
	started bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a scheduler. defaultIntervalMinutes applies when the stored
// settings carry no interval; alerts may be nil.
func New(st *store.Store, runner Runner, alerts AlertSink, defaultIntervalMinutes int) *Scheduler {
	if defaultIntervalMinutes <= 0 {
		defaultIntervalMinutes = 60
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:           st,
		runner:          runner,
		alerts:          alerts,
		defaultInterval: time.Duration(defaultIntervalMinutes) * time.Minute,
		ctx:             ctx,
		cancel:          cancel,
		now:             time.Now,
	}
}

// Start launches the sync loop and the cleanup routine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.syncLoop()
	go s.cleanupLoop()
	log.Printf("[scheduler] started, default interval %v", s.defaultInterval)
}

// Stop shuts both loops down and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("[scheduler] stopped")
}

// syncLoop checks once a minute whether a full sync is due. The check runs
// immediately on start so a fresh deployment syncs without waiting a tick.
func (s *Scheduler) syncLoop() {
	defer s.wg.Done()

	s.runIfDue()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runIfDue()
		}
	}
}

// runIfDue runs a full sync when the interval has elapsed since the last
// recorded one. A missing or unparsable last-sync stamp counts as due.
func (s *Scheduler) runIfDue() {
	settings := s.store.LoadSettings()
	if settings.CalendarHref == "" {
		// Nothing to sync against until provisioning has run.
		return
	}

	interval := s.defaultInterval
	if settings.FullSyncIntervalMinutes > 0 {
		interval = time.Duration(settings.FullSyncIntervalMinutes) * time.Minute
	}

	if settings.LastFullSync != "" {
		last, err := time.Parse(time.RFC3339, settings.LastFullSync)
		if err == nil && s.now().Sub(last) < interval {
			return
		}
	}

	s.runSync("scheduled")
}

// runSync executes one full sync with a timeout and reports failure and
// recovery transitions to the alert sink.
func (s *Scheduler) runSync(trigger string) {
	ctx, cancel := context.WithTimeout(s.ctx, syncTimeout)
	defer cancel()

	_, err := s.runner.FullSync(ctx, trigger)
	if errors.Is(err, engine.ErrSyncInFlight) {
		log.Printf("[scheduler] skipping %s sync, another pass is running", trigger)
		return
	}

	s.mu.Lock()
	wasFailing := s.failing
	s.failing = err != nil
	s.mu.Unlock()

	switch {
	case err != nil:
		log.Printf("[scheduler] %s sync failed: %v", trigger, err)
		if s.alerts != nil {
			s.alerts.PassFailed(trigger, err)
		}
	case wasFailing:
		if s.alerts != nil {
			s.alerts.PassRecovered(trigger)
		}
	}
}

// cleanupLoop prunes old sync log entries daily.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pruneLogs()
		}
	}
}

func (s *Scheduler) pruneLogs() {
	cutoff := s.now().AddDate(0, 0, -logRetentionDays)
	deleted, err := s.store.PruneSyncLogs(cutoff)
	if err != nil {
		log.Printf("[scheduler] failed to prune sync logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[scheduler] pruned %d old sync log entries", deleted)
	}
}
