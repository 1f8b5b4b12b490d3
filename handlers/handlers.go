package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"report-match-engine/database"
	"report-match-engine/models"
	"report-match-engine/service"
)

// Engine is the slice of the lifecycle manager the HTTP surface uses.
type Engine interface {
	ProcessReport(ctx context.Context, reportID string) (created, updated int, err error)
	ListMatches(ctx context.Context, reportID string) ([]*models.MatchCandidate, error)
	BulkTransition(ctx context.Context, ids []string, action, actor string) (*models.BulkResponse, error)
}

// Handlers represents the HTTP handlers
type Handlers struct {
	engine Engine
}

// NewHandlers creates new HTTP handlers
func NewHandlers(engine Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(router *gin.Engine) {
	router.GET("/api/v3/health", h.HealthCheck)

	internal := router.Group("/internal/matching")
	{
		internal.POST("/generate", h.Generate)
		internal.GET("/matches/:reportID", h.GetMatches)
	}

	admin := router.Group("/admin/matches/bulk")
	{
		admin.POST("/approve", h.bulkHandler(service.ActionApprove))
		admin.POST("/reject", h.bulkHandler(service.ActionReject))
		admin.POST("/notify", h.bulkHandler(service.ActionNotify))
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "report-match-engine",
	})
}

type generateRequest struct {
	ReportID string `json:"report_id" binding:"required"`
}

// Generate triggers one candidate generation run for a report. The
// operation is idempotent: repeating it with no intervening edits
// produces the same rows with the same scores.
func (h *Handlers) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report_id is required"})
		return
	}

	created, updated, err := h.engine.ProcessReport(c.Request.Context(), req.ReportID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}

	c.JSON(http.StatusOK, models.GenerateResponse{
		ReportID: req.ReportID,
		Created:  created,
		Updated:  updated,
	})
}

// GetMatches returns the ranked pairings for a report with their full
// score breakdowns.
func (h *Handlers) GetMatches(c *gin.Context) {
	reportID := c.Param("reportID")
	if reportID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report id is required"})
		return
	}

	matches, err := h.engine.ListMatches(c.Request.Context(), reportID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list matches"})
		return
	}
	if matches == nil {
		matches = []*models.MatchCandidate{}
	}

	c.JSON(http.StatusOK, gin.H{
		"report_id": reportID,
		"matches":   matches,
	})
}

// bulkHandler builds the handler for one bulk moderation action. The
// response always carries the per-id tally; one bad id never turns the
// whole batch into an error.
func (h *Handlers) bulkHandler(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BulkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if len(req.IDs) == 0 || len(req.IDs) > service.BulkLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "ids length must be between 1 and 100",
			})
			return
		}

		actor := c.GetHeader("X-Admin-User")
		if actor == "" {
			actor = "admin"
		}

		resp, err := h.engine.BulkTransition(c.Request.Context(), req.IDs, action, actor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
