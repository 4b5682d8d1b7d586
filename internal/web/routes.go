package web

import (
	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/notiondavsync/internal/auth"
)

// SetupRoutes configures all application routes. sm is nil when SSO is not
// configured; the admin group then accepts the admin token only.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager, adminToken string) {
	// Health endpoints: no auth, no rate limit.
	r.GET("/health", h.HealthCheck)
	r.GET("/health/live", h.Liveness)

	// Webhook ingress with its own limiter budget; authentication is the
	// HMAC signature, not the admin token.
	webhookGroup := r.Group("/webhook")
	webhookGroup.Use(RateLimiter(10, 20))
	{
		webhookGroup.POST("/notion", h.Webhook)
	}

	// Admin surface. Sync actions make network calls, so the budget is
	// deliberately small.
	adminGroup := r.Group("/admin")
	adminGroup.Use(RateLimiter(2, 5))
	adminGroup.Use(auth.RequireAdmin(sm, adminToken))
	{
		adminGroup.GET("/status", h.AdminStatus)
		adminGroup.POST("/status", h.AdminAction)
	}

	// SSO endpoints exist only when OIDC is configured.
	if sm != nil && h.oidc != nil {
		authGroup := r.Group("/auth")
		authGroup.Use(RateLimiter(5, 10))
		{
			authGroup.GET("/login", h.Login)
			authGroup.GET("/callback", h.Callback)
			authGroup.POST("/logout", h.Logout)
		}
	}
}
