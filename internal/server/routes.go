package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dkwatch/internal/standings"
	"dkwatch/internal/storage"
	"dkwatch/internal/winprob"
)

func (s *Server) routes(r *gin.Engine) {
	r.GET("/", s.handleIndex)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)

	api := r.Group("/api")
	{
		api.GET("/standings/latest", s.handleLatest)
		api.GET("/standings/runs", s.handleRuns)
		api.GET("/standings/:id", s.handleSnapshotAt)
		api.GET("/winprob", s.handleWinProb)
		api.GET("/scheduler", s.handleScheduler)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadyz reports ready once the poll loop has attempted at least
// one tick, so probes do not route traffic to a cold process.
func (s *Server) handleReadyz(c *gin.Context) {
	snap := s.sched.Snapshot()
	if snap.Ticks == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting for first poll"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "ticks": snap.Ticks})
}

func (s *Server) latest(c *gin.Context) (standings.Snapshot, bool) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return standings.Snapshot{}, false
	}
	snap, err := s.store.LatestSnapshot(c.Request.Context())
	if errors.Is(err, storage.ErrNoSnapshot) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return standings.Snapshot{}, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return standings.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleLatest(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taken_at": snap.TakenAt,
		"entries":  snap.Entries,
	})
}

func (s *Server) handleSnapshotAt(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad snapshot id"})
		return
	}
	snap, err := s.store.SnapshotAt(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNoSnapshot) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such snapshot"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taken_at": snap.TakenAt,
		"entries":  snap.Entries,
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleWinProb(c *gin.Context) {
	snap, ok := s.latest(c)
	if !ok {
		return
	}
	projs := winprob.Compute(snap.Entries, s.wp)
	c.JSON(http.StatusOK, gin.H{
		"taken_at":    snap.TakenAt,
		"projections": projs,
	})
}

func (s *Server) handleScheduler(c *gin.Context) {
	snap := s.sched.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"interval": snap.Interval.String(),
		"running":  snap.Running,
		"ticks":    snap.Ticks,
		"history":  snap.History,
		"crons":    snap.Crons,
	})
}

type indexRow struct {
	Rank      int
	TeamName  string
	PMR       int
	FPTS      string
	ProjFinal string
	WinProb   string
}

type indexData struct {
	TakenAt  string
	Interval string
	Rows     []indexRow
	Empty    bool
}

func (s *Server) handleIndex(c *gin.Context) {
	data := indexData{Empty: true}
	if sched := s.sched.Snapshot(); sched.Interval > 0 {
		data.Interval = sched.Interval.String()
	}

	if s.store != nil {
		snap, err := s.store.LatestSnapshot(c.Request.Context())
		switch {
		case errors.Is(err, storage.ErrNoSnapshot):
			// keep empty state
		case err != nil:
			c.String(http.StatusInternalServerError, "storage error: %v", err)
			return
		default:
			data.Empty = false
			data.TakenAt = snap.TakenAt.Format(time.RFC1123)
			for _, p := range winprob.Compute(snap.Entries, s.wp) {
				data.Rows = append(data.Rows, indexRow{
					Rank:      p.Rank,
					TeamName:  p.TeamName,
					PMR:       p.PMR,
					FPTS:      strconv.FormatFloat(p.FPTS, 'f', 2, 64),
					ProjFinal: strconv.FormatFloat(p.ProjFinal, 'f', 2, 64),
					WinProb:   strconv.FormatFloat(p.WinProb*100, 'f', 1, 64) + "%",
				})
			}
		}
	}
	c.HTML(http.StatusOK, "index.html", data)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Contest Standings</title>
<style>
body { font-family: sans-serif; margin: 2em; background: #111; color: #eee; }
table { border-collapse: collapse; width: 100%; }
th, td { padding: 6px 12px; border-bottom: 1px solid #333; text-align: left; }
th { color: #8cf; }
tr:hover { background: #1c1c1c; }
.meta { color: #888; margin-bottom: 1em; }
</style>
</head>
<body>
<h1>Contest Standings</h1>
{{if .Empty}}
<p class="meta">No standings captured yet{{if .Interval}} (polling every {{.Interval}}){{end}}.</p>
{{else}}
<p class="meta">Captured {{.TakenAt}}{{if .Interval}} &middot; polling every {{.Interval}}{{end}}</p>
<table>
<tr><th>Rank</th><th>Team</th><th>PMR</th><th>FPTS</th><th>Proj Final</th><th>Win Prob</th></tr>
{{range .Rows}}
<tr><td>{{.Rank}}</td><td>{{.TeamName}}</td><td>{{.PMR}}</td><td>{{.FPTS}}</td><td>{{.ProjFinal}}</td><td>{{.WinProb}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`
