// Package web is the HTTP surface: webhook ingress, admin status page, and
// health endpoints.
package web

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/notiondavsync/internal/activity"
	"github.com/macjediwizard/notiondavsync/internal/auth"
	"github.com/macjediwizard/notiondavsync/internal/config"
	"github.com/macjediwizard/notiondavsync/internal/engine"
	"github.com/macjediwizard/notiondavsync/internal/health"
	"github.com/macjediwizard/notiondavsync/internal/notify"
	"github.com/macjediwizard/notiondavsync/internal/store"
	"github.com/macjediwizard/notiondavsync/internal/validator"
)

// SyncEngine is the reconciliation capability the handlers drive.
type SyncEngine interface {
	FullSync(ctx context.Context, trigger string) (*engine.Counters, error)
	Sync(ctx context.Context, opts engine.PassOptions) (*engine.Counters, error)
	RewriteCalendar(ctx context.Context, trigger string) (*engine.Counters, error)
	ScheduleFullSync(trigger string) <-chan struct{}
	SyncPages(ctx context.Context, pageIDs []string) ([]string, error)
	CheckConnectivity(ctx context.Context) map[string]string
	ApplyCalendarColor(ctx context.Context, color string) error
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg      *config.Config
	store    *store.Store
	engine   SyncEngine
	tracker  *activity.Tracker
	health   *health.Checker
	notifier *notify.Notifier
	urls     *validator.Validator
	oidc     *auth.OIDCProvider
	session  *auth.SessionManager
}

// NewHandlers creates a Handlers instance. oidc and session may be nil when
// SSO is not configured; notifier may be nil when alerting is off.
func NewHandlers(
	cfg *config.Config,
	st *store.Store,
	eng SyncEngine,
	tracker *activity.Tracker,
	healthChecker *health.Checker,
	notifier *notify.Notifier,
	oidc *auth.OIDCProvider,
	session *auth.SessionManager,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		engine:   eng,
		tracker:  tracker,
		health:   healthChecker,
		notifier: notifier,
		urls:     validator.New(),
		oidc:     oidc,
		session:  session,
	}
}

// HealthCheck reports readiness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Liveness reports that the process is up.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login initiates OIDC authentication.
func (h *Handlers) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate state"})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save state"})
		return
	}

	c.Redirect(http.StatusFound, h.oidc.AuthCodeURL(state))
}

// Callback handles the OIDC redirect.
func (h *Handlers) Callback(c *gin.Context) {
	state := c.Query("state")
	savedState, err := h.session.GetOAuthState(c.Writer, c.Request)
	if err != nil || state != savedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state parameter"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authentication failed: " + errParam})
		return
	}

	token, err := h.oidc.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code"})
		return
	}

	claims, err := h.oidc.VerifyIDToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to verify token"})
		return
	}

	sessionData := &auth.SessionData{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
	}
	if err := h.session.Set(c.Writer, c.Request, sessionData); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	redirectURL := "/admin/status"
	if cookie, err := c.Cookie("redirect_after_login"); err == nil && cookie != "" {
		if IsSafeRedirectURL(cookie) {
			redirectURL = cookie
		}
		c.SetCookie("redirect_after_login", "", -1, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// Logout clears the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to logout"})
		return
	}
	c.Redirect(http.StatusFound, "/auth/login")
}
