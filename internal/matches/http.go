package matches

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ActorFunc returns the authenticated user's id for audit columns.
type ActorFunc func(*gin.Context) *int64

// ----- Request payloads -----

type manualReq struct {
	MatchNumber   int64  `json:"match_number" validate:"required,gt=0"`
	Date          string `json:"date" validate:"required"`
	OpponentsTeam string `json:"opponents_team" validate:"required"`
	HomeOrAway    string `json:"home_or_away" validate:"required"`
	Place         string `json:"place" validate:"required"`
}

func (r manualReq) input() MatchInput {
	return MatchInput{
		MatchNumber:   strconv.FormatInt(r.MatchNumber, 10),
		Date:          r.Date,
		OpponentsTeam: r.OpponentsTeam,
		HomeOrAway:    r.HomeOrAway,
		Place:         r.Place,
	}
}

type previewReq struct {
	Text string `json:"text"`
}

type previewResp struct {
	Pending PendingImport `json:"pending"`
	Summary ImportSummary `json:"summary"`
	Warning string        `json:"warning,omitempty"`
}

// validationMessages flattens validator errors into "field: rule" strings.
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return out
}

// ----- Routes -----

// RegisterRoutes mounts the match API. Reads are public; protect guards
// every mutating route.
func RegisterRoutes(r *gin.Engine, repo *Repository, im *Importer, protect gin.HandlerFunc, actor ActorFunc) {
	if actor == nil {
		actor = func(*gin.Context) *int64 { return nil }
	}
	rec := NewReconciler(repo)

	api := r.Group("/api")
	{
		api.GET("/matches", func(c *gin.Context) {
			list, err := repo.List(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if list == nil {
				list = []Match{}
			}
			c.JSON(http.StatusOK, list)
		})

		api.GET("/matches/:id", func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
				return
			}
			m, err := repo.Get(c.Request.Context(), id)
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, m)
		})

		// CSV export of all matches
		api.GET("/matches.csv", func(c *gin.Context) {
			list, err := repo.List(c.Request.Context())
			if err != nil {
				c.String(http.StatusInternalServerError, err.Error())
				return
			}
			filename := fmt.Sprintf("matches_%s.csv", time.Now().Format("2006-01-02"))
			c.Header("Content-Type", "text/csv; charset=utf-8")
			c.Header("Content-Disposition", "attachment; filename="+filename)
			if err := WriteCSV(c.Writer, list); err != nil {
				c.String(http.StatusInternalServerError, err.Error())
			}
		})

		// iCal export of all matches
		api.GET("/matches.ics", func(c *gin.Context) {
			list, err := repo.List(c.Request.Context())
			if err != nil {
				c.String(http.StatusInternalServerError, err.Error())
				return
			}
			c.Header("Content-Type", "text/calendar; charset=utf-8")
			c.Header("Content-Disposition", "attachment; filename=matches.ics")
			_ = WriteICS(c.Writer, list, time.Now())
		})

		// Manual entry goes through the same upsert as imports
		api.POST("/matches", attachProtect(protect, func(c *gin.Context) {
			var req manualReq
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
				return
			}
			if err := validate.Struct(req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match", "details": validationMessages(err)})
				return
			}
			action, id, err := rec.Apply(c.Request.Context(), req.input(), SourceManual, actor(c))
			if errors.Is(err, ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if errors.Is(err, ErrInvalidMatchNumber) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			m, err := repo.Get(c.Request.Context(), id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			status := http.StatusOK
			if action == ActionInserted {
				status = http.StatusCreated
			}
			c.JSON(status, gin.H{"action": action, "match": m})
		}))

		// Edit by id; unlike POST this may move a match to another date or number
		api.PUT("/matches/:id", attachProtect(protect, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
				return
			}
			var req manualReq
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
				return
			}
			if err := validate.Struct(req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match", "details": validationMessages(err)})
				return
			}
			ctx := c.Request.Context()
			existing, err := repo.Get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			m, err := rec.Replace(ctx, existing, req.input(), SourceManual)
			switch {
			case errors.Is(err, ErrConflict):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			case errors.Is(err, ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			case err != nil:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, m)
		}))

		api.DELETE("/matches/:id", attachProtect(protect, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
				return
			}
			err = repo.Delete(c.Request.Context(), id)
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusNoContent)
		}))

		// Preview: pasted text as JSON, or a .csv/.xlsx file as multipart
		api.POST("/matches/import/preview", attachProtect(protect, func(c *gin.Context) {
			ctx := c.Request.Context()
			var (
				p   PendingImport
				sum ImportSummary
			)
			if strings.HasPrefix(c.ContentType(), "multipart/") {
				if err := c.Request.ParseMultipartForm(12 << 20); err != nil { // 12MB
					c.JSON(http.StatusBadRequest, gin.H{"error": "multipart too large"})
					return
				}
				fh, err := c.FormFile("file")
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
					return
				}
				up, err := parseUpload(fh)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				p, sum = im.PreviewRecords(ctx, up.records, up.text, up.source)
			} else {
				var req previewReq
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
					return
				}
				p, sum = im.Preview(ctx, req.Text, SourceCSVPaste)
			}
			resp := previewResp{Pending: p, Summary: sum}
			if len(p.Rows) == 0 {
				resp.Warning = "no rows detected"
			}
			c.JSON(http.StatusOK, resp)
		}))

		api.POST("/matches/import/commit", attachProtect(protect, func(c *gin.Context) {
			var p PendingImport
			if err := c.ShouldBindJSON(&p); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad json"})
				return
			}
			if len(p.Rows) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to import"})
				return
			}
			c.JSON(http.StatusOK, im.Commit(c.Request.Context(), p, actor(c)))
		}))
	}
}

// attachProtect conditionally wraps handlers with the given protect middleware for mutating routes.
// We keep read routes public.
func attachProtect(protect gin.HandlerFunc, h gin.HandlerFunc) gin.HandlerFunc {
	if protect == nil {
		return h
	}
	return func(c *gin.Context) {
		protect(c)
		if c.IsAborted() {
			return
		}
		h(c)
	}
}
