// Package server is the taskdeck HTTP server: the update API, the progress
// event stream, the client data API and the built single-page client.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/update"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Version   string // Installed application version, resolved after the boot apply
	Checker   update.Checker
	Downloads *update.Manager
	Progress  *update.ProgressStore
	Markers   *update.MarkerStore
	Notifier  *update.Notifier
	Store     *store.Store
}

// Server serves the taskdeck API and client.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps
	router *gin.Engine

	restartOnce sync.Once
	restart     chan struct{}
}

// New creates a server and registers its routes.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		deps:    deps,
		router:  router,
		restart: make(chan struct{}),
	}

	api := router.Group("/api")
	{
		api.GET("/version", s.handleVersion)
		api.GET("/data", s.handleGetData)
		api.POST("/data", s.handlePostData)
		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handlePostConfig)
	}

	upd := api.Group("/update")
	{
		upd.GET("/check", s.handleCheck)
		upd.POST("/download", s.handleDownload)
		upd.GET("/progress", s.handleProgress)
		upd.POST("/cancel", s.handleCancel)
		upd.POST("/apply", s.handleApply)
		upd.GET("/status", s.handleStatus)
		upd.POST("/clear-status", s.handleClearStatus)
	}

	router.NoRoute(s.handleStatic)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RestartRequested is closed once an apply-and-restart has been accepted and
// the restart delay has elapsed.
func (s *Server) RestartRequested() <-chan struct{} {
	return s.restart
}

// requestRestart closes the restart channel after the configured delay so the
// apply response reaches the client first.
func (s *Server) requestRestart() {
	s.restartOnce.Do(func() {
		time.AfterFunc(s.cfg.Update.RestartDelay.Duration, func() {
			close(s.restart)
		})
	})
}

// Run listens on the configured address until ctx is cancelled or a restart
// is requested, then shuts down gracefully. It reports whether the shutdown
// was a restart for an update.
func (s *Server) Run(ctx context.Context) (bool, error) {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return false, fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) (bool, error) {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String(), "install_dir", s.cfg.InstallDir)

	restarting := false
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return false, nil
		}
		return false, fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case <-s.restart:
		restarting = true
		s.logger.Info("shutting down to apply update")
	}

	if s.deps.Downloads != nil {
		s.deps.Downloads.Cancel("")
	}

	// Ends open progress streams so Shutdown does not wait on them.
	cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return restarting, fmt.Errorf("failed to shut down: %w", err)
	}

	if s.deps.Downloads != nil {
		s.deps.Downloads.Wait()
	}
	return restarting, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
