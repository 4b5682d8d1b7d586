package web

import (
	"embed"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

var statusTemplate = template.Must(
	template.New("status.html").Funcs(templateFuncs()).ParseFS(templatesFS, "templates/status.html"),
)

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"since": func(stamp string) string {
			t, err := time.Parse(time.RFC3339, stamp)
			if err != nil {
				return stamp
			}
			return time.Since(t).Round(time.Second).String() + " ago"
		},
	}
}

// renderStatusPage writes the HTML status page. message and errMsg carry the
// outcome of a just-run admin action.
func (h *Handlers) renderStatusPage(c *gin.Context, data *statusData, message, errMsg string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err := statusTemplate.Execute(c.Writer, gin.H{
		"Data":    data,
		"Message": message,
		"Error":   errMsg,
	})
	if err != nil {
		log.Printf("[web] failed to render status page: %v", err)
	}
}
