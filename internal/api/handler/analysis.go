package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// AnalysisHandler serves analysis trigger, status and streaming endpoints
type AnalysisHandler struct {
	store    store.Store
	engine   *orchestrator.Engine
	manager  *localreview.Manager
	registry *provider.Registry
	bus      *bus.Bus
}

// NewAnalysisHandler creates an analysis handler
func NewAnalysisHandler(s store.Store, e *orchestrator.Engine, m *localreview.Manager, r *provider.Registry, b *bus.Bus) *AnalysisHandler {
	return &AnalysisHandler{store: s, engine: e, manager: m, registry: r, bus: b}
}

// Analyze starts a single-voice analysis
// POST /api/local/:reviewId/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	review, ok := loadLocalReview(h.store, c, reviewID)
	if !ok {
		return
	}

	var req orchestrator.SingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	plan, err := orchestrator.ResolveSingle(h.registry, &req)
	if err != nil {
		abortError(c, err)
		return
	}

	h.startRun(c, review, plan, req.CustomInstructions)
}

type councilAnalyzeRequest struct {
	CouncilID          string              `json:"councilId,omitempty"`
	CouncilConfig      model.CouncilConfig `json:"councilConfig,omitempty"`
	ConfigType         string              `json:"configType"`
	CustomInstructions string              `json:"customInstructions,omitempty"`
}

// AnalyzeCouncil starts an advanced or council analysis
// POST /api/local/:reviewId/analyze/council
func (h *AnalysisHandler) AnalyzeCouncil(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	review, ok := loadLocalReview(h.store, c, reviewID)
	if !ok {
		return
	}

	var req councilAnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	cfg := req.CouncilConfig
	if req.CouncilID != "" {
		council, err := h.store.Council().GetByID(req.CouncilID)
		if err != nil {
			abortError(c, err)
			return
		}
		parsed, err := council.ParseConfig()
		if err != nil {
			abortError(c, errors.ErrValidation("stored council config is not valid JSON"))
			return
		}
		cfg = parsed
		if req.ConfigType == "" {
			req.ConfigType = string(council.Type)
		}
		if err := h.store.Council().Touch(council.ID); err != nil {
			abortError(c, err)
			return
		}
	}
	if len(cfg) == 0 {
		abortError(c, errors.ErrValidation("councilId or councilConfig is required"))
		return
	}

	plan, err := orchestrator.ResolveCouncil(h.registry, model.ConfigType(req.ConfigType), cfg)
	if err != nil {
		abortError(c, err)
		return
	}

	h.startRun(c, review, plan, req.CustomInstructions)
}

// startRun loads the session diff and hands off to the engine
func (h *AnalysisHandler) startRun(c *gin.Context, review *model.Review, plan *orchestrator.Plan, requestInstructions string) {
	diff, err := h.manager.GetDiff(review.ID)
	if err != nil {
		abortError(c, err)
		return
	}
	if diff.Diff == "" {
		abortError(c, errors.ErrValidation("working tree has no changes to analyze"))
		return
	}

	run, err := h.engine.Start(c.Request.Context(), &orchestrator.StartRequest{
		Review:              review,
		Plan:                plan,
		Diff:                diff.Diff,
		HeadSHA:             review.LocalHeadSHA,
		CustomInstructions:  review.CustomInstructions,
		RequestInstructions: requestInstructions,
	})
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"analysisId": run.ID})
}

// Cancel stops the review's in-flight analysis
// POST /api/local/:reviewId/analyze/cancel
func (h *AnalysisHandler) Cancel(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	if err := h.engine.Cancel(reviewID); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Status reports whether an analysis is in flight
// GET /api/local/:reviewId/analysis-status
func (h *AnalysisHandler) Status(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	status := h.engine.Status(reviewID)
	resp := gin.H{"running": status.Running}
	if status.Running {
		resp["analysisId"] = status.AnalysisID
		resp["status"] = gin.H{
			"isCouncil":     status.IsCouncil,
			"configType":    status.ConfigType,
			"councilConfig": status.Config,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Suggestions lists AI suggestions, final set by default
// GET /api/local/:reviewId/suggestions?levels=<raw|final>&runId=<id>
func (h *AnalysisHandler) Suggestions(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	var runID *string
	if id := c.Query("runId"); id != "" {
		runID = &id
	}
	rawRequested := c.Query("levels") == "raw"

	suggestions, err := h.store.Comment().ListSuggestions(reviewID, runID, rawRequested)
	if err != nil {
		abortError(c, err)
		return
	}
	// levels=raw selects the per-voice rows only, not the merged final set
	if rawRequested {
		raw := make([]model.Comment, 0, len(suggestions))
		for _, s := range suggestions {
			if s.IsRaw {
				raw = append(raw, s)
			}
		}
		suggestions = raw
	}
	if suggestions == nil {
		suggestions = []model.Comment{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// HasSuggestions summarizes the latest (or named) run for quick UI checks
// GET /api/local/:reviewId/has-ai-suggestions?runId=<id>
func (h *AnalysisHandler) HasSuggestions(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	var run *model.AnalysisRun
	var err error
	if id := c.Query("runId"); id != "" {
		run, err = h.store.Run().GetByID(id)
	} else {
		run, err = h.store.Run().GetLatest(reviewID)
	}
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"analysisHasRun": false,
				"hasSuggestions": false,
			})
			return
		}
		abortError(c, err)
		return
	}

	count, err := h.store.Comment().CountSuggestionsByRun(run.ID)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysisHasRun": true,
		"hasSuggestions": count > 0,
		"summary":        run.Summary,
		"stats": gin.H{
			"runId":            run.ID,
			"status":           run.Status,
			"totalSuggestions": run.TotalSuggestions,
			"filesAnalyzed":    run.FilesAnalyzed,
		},
	})
}

// ListRuns returns the review's analysis run history, parents first
// GET /api/local/:reviewId/runs
func (h *AnalysisHandler) ListRuns(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	runs, err := h.store.Run().ListByReview(reviewID)
	if err != nil {
		abortError(c, err)
		return
	}
	if runs == nil {
		runs = []model.AnalysisRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// StreamStatus is the long-lived progress stream. Frames are newline-
// delimited `data: {json}` lines, starting with a connected frame; a finished
// run's terminal frame is replayed to late subscribers.
// GET /api/local/:reviewId/ai-suggestions/status
func (h *AnalysisHandler) StreamStatus(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	// Prefer the in-flight run's topic; fall back to the latest run so a
	// reconnect after completion still sees the terminal frame
	topic := bus.ReviewTopic(reviewID)
	if status := h.engine.Status(reviewID); status.Running {
		topic = bus.RunTopic(status.AnalysisID)
	} else if latest, err := h.store.Run().GetLatest(reviewID); err == nil {
		topic = bus.RunTopic(latest.ID)
	}

	sub := h.bus.Subscribe(topic)
	defer h.bus.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case msg, open := <-sub.Frames():
			if !open {
				return false
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				return true
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			return true
		}
	})
}
