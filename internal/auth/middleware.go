package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeySession is the key used to store session data in the Gin context.
	ContextKeySession = "session"
)

// RequireAdmin guards the admin surface. A request passes with the admin
// token (X-Admin-Token header, bearer token, or token query parameter) or
// with a valid SSO session when one is configured. sm may be nil when SSO
// is disabled.
func RequireAdmin(sm *SessionManager, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := presentedToken(c); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) == 1 {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}

		if sm != nil {
			if session, err := sm.Get(c.Request); err == nil {
				c.Set(ContextKeySession, session)
				c.Next()
				return
			}
			// Browsers without a session go through the SSO flow.
			if acceptsHTML(c) {
				c.SetCookie("redirect_after_login", c.Request.URL.String(), 600, "/", "", sm.secure, true)
				c.Redirect(http.StatusFound, "/auth/login")
				c.Abort()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

// presentedToken extracts the admin token from the request, wherever the
// caller put it.
func presentedToken(c *gin.Context) string {
	if token := c.GetHeader("X-Admin-Token"); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

func acceptsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

// RequireAuth requires a valid SSO session and redirects to the login flow
// otherwise.
func RequireAuth(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sm.Get(c.Request)
		if err != nil {
			c.SetCookie("redirect_after_login", c.Request.URL.String(), 600, "/", "", sm.secure, true)
			c.Redirect(http.StatusFound, "/auth/login")
			c.Abort()
			return
		}

		c.Set(ContextKeySession, session)
		c.Next()
	}
}

// GetCurrentUser retrieves the current user's session data from the Gin context.
func GetCurrentUser(c *gin.Context) *SessionData {
	session, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}

	sessionData, ok := session.(*SessionData)
	if !ok {
		return nil
	}

	return sessionData
}

// OptionalAuth loads session data if available but doesn't require it.
func OptionalAuth(sm *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sm.Get(c.Request)
		if err == nil {
			c.Set(ContextKeySession, session)
		}
		c.Next()
	}
}
