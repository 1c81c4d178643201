// Package server provides the HTTP server for the application.
// It handles server lifecycle, route setup, and graceful shutdown.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/api/router"
	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/config"
	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/remote"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/logger"
)

// HTTP server timeout configuration. Write timeout is long because the
// progress stream endpoint holds its connection open.
const (
	defaultReadTimeout     = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Server represents the HTTP server and the components behind it
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	router     *gin.Engine
	store      store.Store
	engine     *orchestrator.Engine
	sweeper    *Sweeper
}

// New wires the application components and creates a server instance
func New(cfg *config.Config, s store.Store) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	registry := provider.NewRegistry(cfg)
	progressBus := bus.New()
	engine := orchestrator.NewEngine(s, registry, progressBus, orchestrator.Options{
		Yolo:              cfg.Yolo,
		MaxParallelVoices: cfg.Analysis.MaxParallelVoices,
	})
	manager := localreview.NewManager(s)

	router.Setup(r, &router.Deps{
		Config:   cfg,
		Store:    s,
		Engine:   engine,
		Manager:  manager,
		Registry: registry,
		Bus:      progressBus,
		Remote:   remote.NewGitHubSource(cfg.GitHubToken),
	})

	srv := &Server{
		cfg:    cfg,
		router: r,
		store:  s,
		engine: engine,
	}
	if cfg.Analysis.RetentionDays > 0 {
		srv.sweeper = NewSweeper(s, cfg.Analysis.RetentionDays)
	}
	return srv
}

// Start starts the HTTP server and the retention sweeper
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.cfg.Address(),
		Handler:     s.router,
		ReadTimeout: defaultReadTimeout,
		IdleTimeout: defaultIdleTimeout,
	}

	logger.Info("Starting HTTP server",
		zap.String("address", s.cfg.Address()),
		zap.Bool("debug", s.cfg.Debug),
	)

	if s.sweeper != nil {
		s.sweeper.Start()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal arrives, then stops
// gracefully. A second signal forces immediate exit.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("Received shutdown signal, starting graceful shutdown (press Ctrl+C again to force exit)",
		zap.String("signal", sig.String()))

	go func() {
		sig := <-quit
		logger.Warn("Received second shutdown signal, forcing exit",
			zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	s.shutdown()
}

// Stop stops the server immediately
func (s *Server) Stop() {
	s.shutdown()
}

func (s *Server) shutdown() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
