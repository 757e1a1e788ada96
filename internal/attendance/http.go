package attendance

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/xaitan80/darts-planner/internal/auth"
	"github.com/xaitan80/darts-planner/internal/matches"
)

// MatchLister is the slice of the match store the calendar needs.
type MatchLister interface {
	List(ctx context.Context) ([]matches.Match, error)
}

// CalendarEntry is a match enriched with its attendance state.
type CalendarEntry struct {
	matches.Match
	Confirmed     int        `json:"confirmed"`
	Names         []string   `json:"names"`
	LastUpdate    *time.Time `json:"last_update"`
	ConfirmedByMe bool       `json:"confirmed_by_me"`
	Ready         bool       `json:"ready"`
}

type handler struct {
	repo    *Repository
	matches MatchLister
}

func RegisterRoutes(r *gin.Engine, repo *Repository, ml MatchLister, users *auth.Repository) {
	h := &handler{repo: repo, matches: ml}

	cal := r.Group("/api/calendar", auth.RequireLogin(users))
	cal.GET("", h.calendar)
	cal.PUT("/:matchID/attendance", h.setAttendance)

	r.GET("/api/admin/attendance/history", auth.RequireAdmin(users), h.history)
}

func (h *handler) calendar(c *gin.Context) {
	ctx := c.Request.Context()
	u, _ := auth.CurrentUser(c)

	list, err := h.matches.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sums, err := h.repo.Summaries(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mine, err := h.repo.ConfirmedBy(ctx, u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]CalendarEntry, 0, len(list))
	for _, m := range list {
		s := sums[m.ID]
		names := s.Names
		if names == nil {
			names = []string{}
		}
		out = append(out, CalendarEntry{
			Match:         m,
			Confirmed:     s.Confirmed,
			Names:         names,
			LastUpdate:    s.LastUpdate,
			ConfirmedByMe: mine[m.ID],
			Ready:         s.Ready(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) setAttendance(c *gin.Context) {
	matchID, err := strconv.ParseInt(c.Param("matchID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}
	var req struct {
		Confirmed *bool `json:"confirmed" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmed is required"})
		return
	}
	u, _ := auth.CurrentUser(c)
	changed, err := h.repo.SetConfirmed(c.Request.Context(), matchID, u.ID, u.Nickname, *req.Confirmed)
	if errors.Is(err, ErrMatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": *req.Confirmed, "changed": changed})
}

func (h *handler) history(c *gin.Context) {
	out, err := h.repo.History(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if out == nil {
		out = []HistoryEntry{}
	}
	c.JSON(http.StatusOK, out)
}
