package web

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/notiondavsync/internal/engine"
)

// statusData is everything the admin status surface shows.
type statusData struct {
	CalendarName     string            `json:"calendar_name"`
	CalendarHref     string            `json:"calendar_href"`
	CalendarColor    string            `json:"calendar_color"`
	CalendarTimezone string            `json:"calendar_timezone"`
	DateOnlyTimezone string            `json:"date_only_timezone"`
	EmojiStyle       string            `json:"emoji_style"`
	IntervalMinutes  int               `json:"full_sync_interval_minutes"`
	LastFullSync     string            `json:"last_full_sync"`
	HasNotionToken   bool              `json:"has_notion_sync_token"`
	HasCalDAVToken   bool              `json:"has_caldav_sync_token"`
	WebhookVerified  bool              `json:"webhook_verified"`
	MappingCount     int               `json:"mapping_count"`
	Activity         map[string]any    `json:"activity"`
	RecentPasses     []passSummary     `json:"recent_passes"`
	Connectivity     map[string]string `json:"connectivity,omitempty"`
}

type passSummary struct {
	Trigger    string         `json:"trigger"`
	StartedAt  string         `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Counters   map[string]int `json:"counters"`
	Error      string         `json:"error,omitempty"`
}

// AdminStatus renders the status page, or the same data as JSON when asked.
func (h *Handlers) AdminStatus(c *gin.Context) {
	data := h.collectStatus()

	if wantsJSON(c) {
		c.JSON(http.StatusOK, data)
		return
	}
	h.renderStatusPage(c, data, "", "")
}

// AdminAction dispatches an admin action and reports its result.
func (h *Handlers) AdminAction(c *gin.Context) {
	action := c.PostForm("action")

	var (
		counters *engine.Counters
		message  string
		err      error
	)

	switch action {
	case "full_sync":
		counters, err = h.engine.FullSync(c.Request.Context(), "admin")
	case "notion_to_caldav":
		counters, err = h.engine.RewriteCalendar(c.Request.Context(), "admin")
	case "caldav_to_notion":
		counters, err = h.engine.Sync(c.Request.Context(), engine.PassOptions{
			DocWrites: true,
			Trigger:   "admin",
		})
	case "check_connectivity":
		results := h.engine.CheckConnectivity(c.Request.Context())
		h.respondAction(c, gin.H{"ok": true, "connectivity": results}, results, "connectivity checked")
		return
	case "save_settings":
		message, err = h.saveSettings(c)
	case "test_alert_webhook":
		err = h.testAlertWebhook(c)
		message = "test alert sent"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if err == engine.ErrSyncInFlight {
			status = http.StatusConflict
		}
		if wantsJSON(c) {
			c.JSON(status, gin.H{"ok": false, "error": err.Error()})
			return
		}
		h.renderStatusPage(c, h.collectStatus(), "", err.Error())
		return
	}

	if counters != nil {
		h.respondAction(c, gin.H{"ok": true, "counters": counters.ToMap()}, nil, counters.String())
		return
	}
	h.respondAction(c, gin.H{"ok": true, "message": message}, nil, message)
}

func (h *Handlers) respondAction(c *gin.Context, body gin.H, connectivity map[string]string, message string) {
	if wantsJSON(c) {
		c.JSON(http.StatusOK, body)
		return
	}
	data := h.collectStatus()
	data.Connectivity = connectivity
	h.renderStatusPage(c, data, message, "")
}

// saveSettings validates and persists the calendar settings fields present
// in the form. Empty fields are left unchanged.
func (h *Handlers) saveSettings(c *gin.Context) (string, error) {
	settings := h.store.LoadSettings()

	if name := strings.TrimSpace(c.PostForm("calendar_name")); name != "" {
		settings.CalendarName = name
	}
	if color := strings.TrimSpace(c.PostForm("calendar_color")); color != "" {
		if err := h.urls.ValidateColor(color); err != nil {
			return "", err
		}
		if color != settings.CalendarColor {
			// Settings still save when the remote PROPPATCH fails; the next
			// provisioning run re-applies the stored color.
			if err := h.engine.ApplyCalendarColor(c.Request.Context(), color); err != nil {
				log.Printf("[web] failed to apply calendar color: %v", err)
			}
		}
		settings.CalendarColor = color
	}
	if tz := strings.TrimSpace(c.PostForm("calendar_timezone")); tz != "" {
		if err := h.urls.ValidateTimezone(tz); err != nil {
			return "", err
		}
		settings.CalendarTimezone = tz
	}
	if tz := strings.TrimSpace(c.PostForm("date_only_timezone")); tz != "" {
		if err := h.urls.ValidateTimezone(tz); err != nil {
			return "", err
		}
		settings.DateOnlyTimezone = tz
	}
	if raw := strings.TrimSpace(c.PostForm("full_sync_interval_minutes")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return "", err
		}
		if err := h.urls.ValidateInterval(minutes, h.cfg.Sync.MinIntervalMinutes, h.cfg.Sync.MaxIntervalMinutes); err != nil {
			return "", err
		}
		settings.FullSyncIntervalMinutes = minutes
	}

	if err := h.store.SaveSettings(settings); err != nil {
		return "", err
	}
	return "settings saved", nil
}

// testAlertWebhook posts a test alert to the configured or submitted URL.
func (h *Handlers) testAlertWebhook(c *gin.Context) error {
	url := strings.TrimSpace(c.PostForm("webhook_url"))
	if url == "" {
		url = h.cfg.Alerts.WebhookURL
	}
	return h.notifier.SendTestWebhook(c.Request.Context(), url)
}

// collectStatus gathers the admin surface data from the store and tracker.
func (h *Handlers) collectStatus() *statusData {
	settings := h.store.LoadSettings()

	data := &statusData{
		CalendarName:     settings.CalendarName,
		CalendarHref:     settings.CalendarHref,
		CalendarColor:    settings.CalendarColor,
		CalendarTimezone: settings.CalendarTimezone,
		DateOnlyTimezone: settings.DateOnlyTimezone,
		EmojiStyle:       h.cfg.Calendar.EmojiStyle,
		IntervalMinutes:  settings.FullSyncIntervalMinutes,
		LastFullSync:     settings.LastFullSync,
		HasNotionToken:   settings.NotionSyncToken != "",
		HasCalDAVToken:   settings.CalDAVSyncToken != "",
		WebhookVerified:  settings.WebhookVerificationToken != "",
		Activity:         h.tracker.Snapshot(),
	}

	if mappings, err := h.store.ListMappings(); err == nil {
		data.MappingCount = len(mappings)
	}

	if logs, err := h.store.RecentSyncLogs(10); err == nil {
		for _, rec := range logs {
			data.RecentPasses = append(data.RecentPasses, passSummary{
				Trigger:    rec.Trigger,
				StartedAt:  rec.StartedAt,
				DurationMS: rec.DurationMS,
				Counters:   rec.Counters,
				Error:      rec.Error,
			})
		}
	}

	return data
}

func wantsJSON(c *gin.Context) bool {
	if c.Query("format") == "json" {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}
