// Package admin implements the Admin View: a read-only snapshot of the
// Room Registry exposed as an HTML page and a JSON endpoint (spec.md
// §4.5, §6). It never mutates registry state.
package admin

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/monteslu/peersignal-broker/internal/room"
)

// Stats is the JSON shape of GET /admin/api/stats.
type Stats struct {
	TotalRooms    int            `json:"totalRooms"`
	TotalPending  int            `json:"totalPending"`
	TotalApproved int            `json:"totalApproved"`
	Rooms         []room.RoomSnapshot `json:"rooms"`
}

// View serves the Admin View's two endpoints over a Registry. It is only
// wired into the router when ADMIN_PASSWORD is set (cmd/broker); that
// password is checked by middleware.AdminAuth in front of these handlers,
// not by this package (spec.md §6: "Authentication is out of the core's
// scope").
type View struct {
	registry *room.Registry
	tmpl     *template.Template
	now      func() time.Time
}

// New builds a View over registry.
func New(registry *room.Registry) *View {
	return &View{
		registry: registry,
		tmpl:     template.Must(template.New("admin").Parse(pageTemplate)),
		now:      time.Now,
	}
}

func (v *View) stats() Stats {
	snapshot := v.registry.Snapshot(v.now())
	s := Stats{Rooms: snapshot}
	s.TotalRooms = len(snapshot)
	for _, r := range snapshot {
		s.TotalPending += r.PendingCount
		s.TotalApproved += r.ApprovedCount
	}
	return s
}

// ServeHTML renders GET /admin.
func (v *View) ServeHTML(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := v.tmpl.Execute(c.Writer, v.stats()); err != nil {
		c.String(http.StatusInternalServerError, "failed to render admin view")
	}
}

// ServeStats renders GET /admin/api/stats.
func (v *View) ServeStats(c *gin.Context) {
	c.JSON(http.StatusOK, v.stats())
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><title>peersignal-broker admin</title></head>
<body>
<h1>Rooms</h1>
<p>{{.TotalRooms}} rooms, {{.TotalPending}} pending, {{.TotalApproved}} approved</p>
<table border="1" cellpadding="4">
<tr><th>Code</th><th>Host live</th><th>Pending</th><th>Approved</th><th>Age (s)</th></tr>
{{range .Rooms}}<tr><td>{{.Code}}</td><td>{{.HostLive}}</td><td>{{.PendingCount}}</td><td>{{.ApprovedCount}}</td><td>{{printf "%.0f" .AgeSeconds}}</td></tr>
{{else}}<tr><td colspan="5">no active rooms</td></tr>
{{end}}
</table>
</body>
</html>
`
