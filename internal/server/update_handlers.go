package server

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/update"
)

func (s *Server) handleCheck(c *gin.Context) {
	desc, err := s.deps.Checker.Check(c.Request.Context())

	var rateErr *update.RateLimitError
	var upErr *update.UpstreamError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, desc)
	case errors.As(err, &rateErr):
		retry := int(math.Ceil(rateErr.RetryAfter(time.Now()).Seconds()))
		if retry > 0 {
			c.Header("Retry-After", strconv.Itoa(retry))
		}
		s.logger.Warn("update check rate limited", "retry_after", retry)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "GitHub API rate limit exceeded. Please try again later.",
			"retryAfter": retry,
		})
	case errors.As(err, &upErr):
		s.logger.Error("update check failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "Failed to check for updates",
			"status": upErr.StatusCode,
		})
	case errors.Is(err, update.ErrMalformedRelease):
		s.logger.Error("update check failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Release metadata is malformed"})
	default:
		s.logger.Error("update check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check for updates"})
	}
}

func (s *Server) handleDownload(c *gin.Context) {
	var req update.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.URL == "" || req.Version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "downloadUrl and version are required"})
		return
	}

	err := s.deps.Downloads.Start(req)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "version": update.NormalizeVersion(req.Version)})
	case errors.Is(err, update.ErrUnofficialURL):
		s.logger.Warn("rejected download", "url", req.URL)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid download URL"})
	case errors.Is(err, update.ErrInvalidVersion):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid version"})
	case errors.Is(err, update.ErrDownloadInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A download is already in progress"})
	default:
		s.logger.Error("failed to start download", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start download"})
	}
}

// handleProgress streams the active transfer as server-sent events every
// progress interval until the client goes away. Intervals with no active
// transfer send nothing.
func (s *Server) handleProgress(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(s.cfg.Update.ProgressInterval.Duration)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if p, ok := s.deps.Progress.Snapshot(); ok {
				c.Render(-1, sse.Event{Data: p})
			}
			return true
		}
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	var body struct {
		Version string `json:"version"`
	}
	// An empty body cancels whatever is running.
	_ = c.ShouldBindJSON(&body)

	cancelled := s.deps.Downloads.Cancel(body.Version)
	if cancelled {
		s.logger.Info("download cancel requested", "version", body.Version)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "cancelled": cancelled})
}

func (s *Server) handleApply(c *gin.Context) {
	rec, err := s.deps.Markers.ReadPending()
	switch {
	case errors.Is(err, update.ErrNoPendingUpdate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No pending update to apply"})
		return
	case errors.Is(err, update.ErrMalformedRecord):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pending update record is unreadable"})
		return
	case err != nil:
		s.logger.Error("failed to read pending update", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply update"})
		return
	}

	s.logger.Info("restarting to apply update", "version", rec.Version)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"version": rec.Version,
		"message": "Update will be applied on restart",
	})
	s.requestRestart()
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.deps.Notifier.Status()
	if err != nil {
		s.logger.Error("failed to read update status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read update status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleClearStatus(c *gin.Context) {
	if err := s.deps.Notifier.Clear(); err != nil {
		s.logger.Error("failed to clear update status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear update status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
