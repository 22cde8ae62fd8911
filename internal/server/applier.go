package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type runApplierRequest struct {
	Today string `json:"today"`
}

// RunApplier triggers one applier pass out of band, optionally for a given day.
func (s *Server) RunApplier(c *gin.Context) {
	if s.applier == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req runApplierRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Today == "" {
		req.Today = c.Query("today")
	}

	today, err := parseOptionalDate(req.Today)
	if err != nil {
		AbortWithError(c, newValidationError("today", "invalid_today", "today must be YYYY-MM-DD"))
		return
	}
	var runDate time.Time
	if today != nil {
		runDate = *today
	}

	summary, err := s.applier.ApplyDueChanges(c.Request.Context(), runDate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("applier run triggered",
		zap.String("run_date", summary.RunDate.Format(time.DateOnly)),
		zap.Int("total", summary.Total),
		zap.Int("failed", summary.FailureCount),
		zap.Bool("truncated", summary.Truncated),
	)
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
