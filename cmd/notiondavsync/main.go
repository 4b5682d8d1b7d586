package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/macjediwizard/notiondavsync/internal/activity"
	"github.com/macjediwizard/notiondavsync/internal/auth"
	"github.com/macjediwizard/notiondavsync/internal/caldav"
	"github.com/macjediwizard/notiondavsync/internal/config"
	"github.com/macjediwizard/notiondavsync/internal/engine"
	"github.com/macjediwizard/notiondavsync/internal/health"
	"github.com/macjediwizard/notiondavsync/internal/ics"
	"github.com/macjediwizard/notiondavsync/internal/notify"
	"github.com/macjediwizard/notiondavsync/internal/notion"
	"github.com/macjediwizard/notiondavsync/internal/scheduler"
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/web"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting NotionDAVSync...")

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()

	if err := cfg.Validate(startupCtx); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open the state store
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing state store: %v", err)
		}
	}()

	// Initialize backends
	calClient, err := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
	if err != nil {
		log.Fatalf("Failed to initialize CalDAV client: %v", err)
	}
	docClient := notion.NewClient(cfg.Notion.BaseURL, cfg.Notion.Token, cfg.Notion.Version)

	// Provision the target calendar before anything syncs against it
	if err := provisionCalendar(startupCtx, st, calClient, cfg); err != nil {
		log.Fatalf("Failed to provision calendar: %v", err)
	}

	// Initialize sync engine
	codec := ics.NewCodec(cfg.Calendar.EmojiStyle)
	syncEngine := engine.New(st, calClient, docClient, codec, cfg.Sync.Workers)

	tracker := activity.NewTracker()
	syncEngine.SetActivity(tracker)

	// Initialize notifier for alerts
	notifier := notify.New(cfg.Alerts)
	var alerts scheduler.AlertSink
	if notifier.Enabled() {
		alerts = notifier
		log.Printf("Alert notifications enabled (webhook: %v, smtp: %v, cooldown: %d min)",
			cfg.Alerts.WebhookURL != "", cfg.Alerts.SMTPHost != "", cfg.Alerts.CooldownMinutes)
	}

	// Initialize scheduler
	sched := scheduler.New(st, syncEngine, alerts, cfg.Sync.FullSyncIntervalMinutes)

	// Initialize health checker
	healthChecker := health.New(st)

	// Optional admin SSO
	var (
		oidcProvider   *auth.OIDCProvider
		sessionManager *auth.SessionManager
	)
	if cfg.OIDC.Enabled() {
		oidcProvider, err = auth.NewOIDCProvider(
			startupCtx,
			cfg.OIDC.Issuer,
			cfg.OIDC.ClientID,
			cfg.OIDC.ClientSecret,
			cfg.OIDC.RedirectURL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC provider: %v", err)
		}
		sessionManager = auth.NewSessionManager(cfg.OIDC.SessionSecret, cfg.IsProduction())
		log.Println("Admin SSO enabled")
	}

	// Initialize handlers
	handlers := web.NewHandlers(
		cfg,
		st,
		syncEngine,
		tracker,
		healthChecker,
		notifier,
		oidcProvider,
		sessionManager,
	)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())
	router.Use(web.RateLimiter(cfg.RateLimiting.RPS, cfg.RateLimiting.Burst))

	web.SetupRoutes(router, handlers, sessionManager, cfg.Admin.Token)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	// Start scheduler
	sched.Start()

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop scheduler
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// provisionCalendar ensures the target calendar exists and records its
// collection href and properties in the stored settings. Stored settings win
// over config defaults so admin edits survive restarts.
func provisionCalendar(ctx context.Context, st *store.Store, cal *caldav.Client, cfg *config.Config) error {
	settings := st.LoadSettings()

	name := settings.CalendarName
	if name == "" {
		name = cfg.Calendar.Name
	}
	color := settings.CalendarColor
	if color == "" {
		color = cfg.Calendar.Color
	}

	info, err := cal.EnsureCalendar(ctx, name, color)
	if err != nil {
		return err
	}

	settings.CalendarHref = info.Href
	settings.CalendarName = info.Name

	// Re-apply the desired color when the server reports a different one.
	desired := caldav.NormalizeColor(color)
	if info.Color != "" && caldav.NormalizeColor(info.Color) != desired {
		if err := cal.SetCalendarColor(ctx, info.Href, desired); err != nil {
			log.Printf("Failed to set calendar color: %v", err)
		}
	}
	settings.CalendarColor = desired

	if info.Timezone != "" {
		settings.CalendarTimezone = info.Timezone
	}
	if settings.DateOnlyTimezone == "" {
		settings.DateOnlyTimezone = cfg.Calendar.DateOnlyTimezone
	}
	if settings.FullSyncIntervalMinutes == 0 {
		settings.FullSyncIntervalMinutes = cfg.Sync.FullSyncIntervalMinutes
	}

	if err := st.SaveSettings(settings); err != nil {
		return err
	}

	log.Printf("Calendar provisioned: %q at %s", settings.CalendarName, settings.CalendarHref)
	return nil
}
