package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/ppiankov/threadstat/internal/logging"
	"github.com/ppiankov/threadstat/internal/pipeline"
	"github.com/ppiankov/threadstat/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Syncer runs one sync; *pipeline.Syncer implements it.
type Syncer interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Report, error)
}

// RunLister is implemented by *store.Store.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]store.Run, error)
}

type Handler struct {
	syncer  Syncer
	runs    RunLister
	version string
	log     logrus.FieldLogger
	started time.Time

	// Only one sync runs at a time.
	mu sync.Mutex
}

// NewHandler creates a handler. runs may be nil when no store is configured.
func NewHandler(syncer Syncer, runs RunLister, version string, log logrus.FieldLogger) *Handler {
	return &Handler{
		syncer:  syncer,
		runs:    runs,
		version: version,
		log:     logging.Or(log),
		started: time.Now(),
	}
}

type syncRequest struct {
	Since string `json:"since" form:"since"`
	Until string `json:"until" form:"until"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Sync runs a sync in the request. The window comes from a JSON body or the
// since/until query parameters; both empty resumes from the last run.
func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}
	for field, v := range map[string]string{"since": req.Since, "until": req.Until} {
		if v == "" {
			continue
		}
		if _, err := dateparse.ParseStrict(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": field + ": " + err.Error()})
			return
		}
	}

	if !h.mu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running"})
		return
	}
	defer h.mu.Unlock()

	// A dropped connection should not abandon a half-written sheet.
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := h.syncer.Run(ctx, pipeline.Options{Since: req.Since, Until: req.Until})
	switch {
	case err == nil, errors.Is(err, pipeline.ErrAuthMissing):
		c.JSON(http.StatusOK, report)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
	}
}

func (h *Handler) Runs(c *gin.Context) {
	limit := defaultRunsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	if h.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []store.Run{}})
		return
	}
	runs, err := h.runs.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
