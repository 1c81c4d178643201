// Package router sets up the API routes for the application.
package router

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/internal/api/handler"
	"github.com/pairreview/pairreview/internal/api/middleware"
	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/config"
	"github.com/pairreview/pairreview/internal/database"
	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/remote"
	"github.com/pairreview/pairreview/internal/store"
)

// Deps carries the wired components the routes dispatch to
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Engine   *orchestrator.Engine
	Manager  *localreview.Manager
	Registry *provider.Registry
	Bus      *bus.Bus
	Remote   remote.Source
}

// Setup configures all API routes
func Setup(r *gin.Engine, d *Deps) {
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(&middleware.LoggerConfig{
		AccessLog: d.Config.Logging.AccessLog,
	}))
	r.Use(middleware.CORS(d.Config.CORSOrigins))
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler(d.Config.Debug))
	r.Use(otelgin.Middleware(consts.ServiceName))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if err := database.HealthCheck(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok", "version": consts.Version})
	})

	localHandler := handler.NewLocalHandler(d.Store, d.Manager)
	commentHandler := handler.NewCommentHandler(d.Store)
	analysisHandler := handler.NewAnalysisHandler(d.Store, d.Engine, d.Manager, d.Registry, d.Bus)
	ingestHandler := handler.NewIngestHandler(d.Engine)
	councilHandler := handler.NewCouncilHandler(d.Store)
	contextHandler := handler.NewContextFileHandler(d.Store)
	chatHandler := handler.NewChatHandler(d.Store)
	prHandler := handler.NewPRHandler(d.Store, d.Remote)
	mcpHandler := handler.NewMCPHandler(d.Store, d.Manager)

	// Machine protocol endpoint
	r.POST("/mcp", mcpHandler.Handle)

	api := r.Group("/api")

	// Local review sessions
	local := api.Group("/local")
	{
		local.POST("/start", localHandler.StartSession)
		local.GET("/sessions", localHandler.ListSessions)
		local.GET("/:reviewId", localHandler.GetSession)
		local.PUT("/:reviewId", localHandler.UpdateSession)
		local.DELETE("/:reviewId", localHandler.DeleteSession)
		local.GET("/:reviewId/diff", localHandler.GetDiff)
		local.POST("/:reviewId/refresh", localHandler.Refresh)
		local.GET("/:reviewId/check-stale", localHandler.CheckStale)

		// User comments
		local.GET("/:reviewId/user-comments", commentHandler.List)
		local.POST("/:reviewId/user-comments", commentHandler.Create)
		local.DELETE("/:reviewId/user-comments", commentHandler.BulkDelete)
		local.PUT("/:reviewId/user-comments/:commentId", commentHandler.Update)
		local.DELETE("/:reviewId/user-comments/:commentId", commentHandler.Delete)
		local.POST("/:reviewId/user-comments/:commentId/restore", commentHandler.Restore)

		// AI suggestion lifecycle
		local.POST("/:reviewId/suggestions/:suggestionId/adopt", commentHandler.Adopt)
		local.PUT("/:reviewId/suggestions/:suggestionId/status", commentHandler.UpdateSuggestionStatus)

		// Analysis
		local.POST("/:reviewId/analyze", analysisHandler.Analyze)
		local.POST("/:reviewId/analyze/council", analysisHandler.AnalyzeCouncil)
		local.POST("/:reviewId/analyze/cancel", analysisHandler.Cancel)
		local.GET("/:reviewId/analysis-status", analysisHandler.Status)
		local.GET("/:reviewId/suggestions", analysisHandler.Suggestions)
		local.GET("/:reviewId/has-ai-suggestions", analysisHandler.HasSuggestions)
		local.GET("/:reviewId/runs", analysisHandler.ListRuns)
		local.GET("/:reviewId/ai-suggestions/status", analysisHandler.StreamStatus)

		// Pinned context ranges
		local.GET("/:reviewId/context-files", contextHandler.List)
		local.POST("/:reviewId/context-files", contextHandler.Add)
		local.DELETE("/:reviewId/context-files", contextHandler.Remove)
		local.PUT("/:reviewId/context-files/:contextFileId", contextHandler.UpdateRange)
		local.DELETE("/:reviewId/context-files/:contextFileId", contextHandler.Remove)

		// Per-comment discussion threads
		local.GET("/:reviewId/comments/:commentId/chat", chatHandler.GetThread)
		local.POST("/:reviewId/comments/:commentId/chat", chatHandler.AppendMessage)
	}

	// External result ingestion
	api.POST("/analyses/results", ingestHandler.Ingest)

	// Saved councils
	councils := api.Group("/councils")
	{
		councils.GET("", councilHandler.List)
		councils.POST("", councilHandler.Create)
		councils.GET("/:councilId", councilHandler.Get)
		councils.PUT("/:councilId", councilHandler.Update)
		councils.DELETE("/:councilId", councilHandler.Delete)
	}

	// PR-mode reviews
	api.GET("/pr/:owner/:repo/:number", prHandler.Get)

	// Provider catalog for clients
	api.GET("/providers", func(c *gin.Context) {
		defs := d.Registry.List()
		out := make([]gin.H, 0, len(defs))
		for _, def := range defs {
			out = append(out, gin.H{
				"id":                  def.ID,
				"available":           def.Available(),
				"models":              def.Models,
				"installInstructions": def.InstallInstructions,
			})
		}
		c.JSON(200, gin.H{"providers": out})
	})
}
