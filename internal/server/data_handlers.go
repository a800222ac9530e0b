package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/store"
)

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.deps.Version})
}

func (s *Server) handleGetData(c *gin.Context) {
	data, err := s.deps.Store.ReadData()
	if err != nil {
		s.logger.Error("failed to read data file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read data file"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) handlePostData(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	if err := s.deps.Store.WriteData(body); err != nil {
		if errors.Is(err, store.ErrInvalidJSON) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is not valid JSON"})
			return
		}
		s.logger.Error("failed to write data file", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write data file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.deps.Store.ReadConfig()
	if err != nil {
		s.logger.Error("failed to read config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handlePostConfig(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if _, err := s.deps.Store.MergeConfig(patch); err != nil {
		s.logger.Error("failed to write config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to write config"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleStatic serves files from the dist directory and falls back to
// index.html so client-side routes resolve.
func (s *Server) handleStatic(c *gin.Context) {
	urlPath := c.Request.URL.Path
	if strings.HasPrefix(urlPath, "/api/") || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	dist := s.cfg.InstallPath(s.cfg.Server.DistDir)
	target := filepath.Join(dist, filepath.FromSlash(path.Clean("/"+urlPath)))
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		c.File(target)
		return
	}

	index := filepath.Join(dist, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.String(http.StatusNotFound, "client not built")
		return
	}
	c.File(index)
}
