package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func adminRouter(sm *SessionManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/status", RequireAdmin(sm, "secret-token"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireAdminToken(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
	}{
		{
			"header token",
			func(r *http.Request) { r.Header.Set("X-Admin-Token", "secret-token") },
			http.StatusOK,
		},
		{
			"bearer token",
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") },
			http.StatusOK,
		},
		{
			"query token",
			func(r *http.Request) { r.URL.RawQuery = "token=secret-token" },
			http.StatusOK,
		},
		{
			"wrong token",
			func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") },
			http.StatusUnauthorized,
		},
		{
			"no credentials",
			func(r *http.Request) {},
			http.StatusUnauthorized,
		},
	}

	router := adminRouter(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireAdminAcceptsSession(t *testing.T) {
	sm := NewSessionManager("0123456789abcdef0123456789abcdef", false)
	router := adminRouter(sm)

	// Mint a session cookie through the manager itself.
	rec := httptest.NewRecorder()
	seed := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := sm.Set(rec, seed, &SessionData{UserID: "u1", Email: "ops@example.com"}); err != nil {
		t.Fatalf("set session: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie issued")
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	out := httptest.NewRecorder()
	router.ServeHTTP(out, req)

	if out.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", out.Code, http.StatusOK)
	}
}

func TestRequireAdminRedirectsBrowsers(t *testing.T) {
	sm := NewSessionManager("0123456789abcdef0123456789abcdef", false)
	router := adminRouter(sm)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/auth/login" {
		t.Errorf("Location = %q", loc)
	}
}
