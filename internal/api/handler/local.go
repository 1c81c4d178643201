package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// LocalHandler serves the local review session endpoints
type LocalHandler struct {
	store   store.Store
	manager *localreview.Manager
}

// NewLocalHandler creates a local session handler
func NewLocalHandler(s store.Store, m *localreview.Manager) *LocalHandler {
	return &LocalHandler{store: s, manager: m}
}

type startSessionRequest struct {
	Path string `json:"path"`
}

// StartSession opens a local review session for a working tree
// POST /api/local/start
func (h *LocalHandler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}
	if req.Path == "" {
		abortError(c, errors.ErrValidation("path is required"))
		return
	}

	result, err := h.manager.Start(c.Request.Context(), req.Path)
	if err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  result.Review.ID,
		"reviewUrl":  fmt.Sprintf("/local/%d", result.Review.ID),
		"repository": result.Repository,
		"branch":     result.Branch,
		"stats":      result.Stats,
	})
}

// ListSessions pages through local sessions, newest first
// GET /api/local/sessions?limit=<n>&before=<iso>
func (h *LocalHandler) ListSessions(c *gin.Context) {
	limit := parseLimitQuery(c, 20, 100)
	before, ok := parseBeforeQuery(c)
	if !ok {
		return
	}

	sessions, hasMore, err := h.store.Review().ListLocalPaged(limit, before)
	if err != nil {
		abortError(c, err)
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"id":             s.ID,
			"name":           s.Name,
			"repository":     s.Repository,
			"local_path":     s.LocalPath,
			"local_head_sha": s.LocalHeadSHA,
			"created_at":     s.CreatedAt,
			"updated_at":     s.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": out,
		"hasMore":  hasMore,
	})
}

// GetSession returns a single session's metadata
// GET /api/local/:reviewId
func (h *LocalHandler) GetSession(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}
	review, ok := loadLocalReview(h.store, c, id)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                 review.ID,
		"name":               review.Name,
		"repository":         review.Repository,
		"branch":             h.manager.Branch(c.Request.Context(), review),
		"localPath":          review.LocalPath,
		"localHeadSha":       review.LocalHeadSHA,
		"status":             review.Status,
		"summary":            review.Summary,
		"customInstructions": review.CustomInstructions,
		"created_at":         review.CreatedAt,
		"updated_at":         review.UpdatedAt,
	})
}

// GetDiff returns the session's captured diff
// GET /api/local/:reviewId/diff
func (h *LocalHandler) GetDiff(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}
	if _, ok := loadLocalReview(h.store, c, id); !ok {
		return
	}

	result, err := h.manager.GetDiff(id)
	if err != nil {
		abortError(c, err)
		return
	}

	generated := result.GeneratedFiles
	if generated == nil {
		generated = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"diff":            result.Diff,
		"stats":           result.Stats,
		"generated_files": generated,
	})
}

// Refresh recaptures the working tree, possibly rekeying to a new session
// POST /api/local/:reviewId/refresh
func (h *LocalHandler) Refresh(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}

	result, err := h.manager.Refresh(c.Request.Context(), id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CheckStale probes whether the working copy drifted from the captured diff
// GET /api/local/:reviewId/check-stale
func (h *LocalHandler) CheckStale(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.manager.CheckStale(c.Request.Context(), id))
}

// DeleteSession removes a session and everything hanging off it
// DELETE /api/local/:reviewId
func (h *LocalHandler) DeleteSession(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}
	if _, ok := loadLocalReview(h.store, c, id); !ok {
		return
	}

	if err := h.store.Review().Delete(id); err != nil {
		abortError(c, err)
		return
	}
	h.manager.Evict(id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateSessionRequest struct {
	Name               *string `json:"name,omitempty"`
	CustomInstructions *string `json:"customInstructions,omitempty"`
}

// UpdateSession renames a session or sets its review-wide instructions
// PUT /api/local/:reviewId
func (h *LocalHandler) UpdateSession(c *gin.Context) {
	id, ok := reviewIDParam(c)
	if !ok {
		return
	}
	if _, ok := loadLocalReview(h.store, c, id); !ok {
		return
	}

	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}
	if req.Name == nil && req.CustomInstructions == nil {
		abortError(c, errors.ErrValidation("nothing to update"))
		return
	}

	if req.Name != nil {
		if err := h.store.Review().UpdateName(id, *req.Name); err != nil {
			abortError(c, err)
			return
		}
	}
	if req.CustomInstructions != nil {
		if err := h.store.Review().UpdateCustomInstructions(id, *req.CustomInstructions); err != nil {
			abortError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
