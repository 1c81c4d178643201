package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// ContextFileHandler manages pinned context ranges on a review
type ContextFileHandler struct {
	store store.Store
}

// NewContextFileHandler creates a context file handler
func NewContextFileHandler(s store.Store) *ContextFileHandler {
	return &ContextFileHandler{store: s}
}

type contextFileRequest struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Label     string `json:"label,omitempty"`
}

// Add pins a file range as review context
// POST /api/local/:reviewId/context-files
func (h *ContextFileHandler) Add(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	if _, ok := loadLocalReview(h.store, c, reviewID); !ok {
		return
	}

	var req contextFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	cf := &model.ContextFile{
		ReviewID:  reviewID,
		File:      req.File,
		LineStart: req.LineStart,
		LineEnd:   req.LineEnd,
		Label:     req.Label,
	}
	if err := h.store.ContextFile().Add(cf); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cf)
}

// List returns the review's pinned context ranges
// GET /api/local/:reviewId/context-files?file=<path>
func (h *ContextFileHandler) List(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	var files []model.ContextFile
	var err error
	if file := c.Query("file"); file != "" {
		files, err = h.store.ContextFile().ListByReviewAndFile(reviewID, file)
	} else {
		files, err = h.store.ContextFile().ListByReview(reviewID)
	}
	if err != nil {
		abortError(c, err)
		return
	}
	if files == nil {
		files = []model.ContextFile{}
	}
	c.JSON(http.StatusOK, gin.H{"contextFiles": files})
}

type contextRangeRequest struct {
	LineStart int `json:"line_start"`
	LineEnd   int `json:"line_end"`
}

// UpdateRange moves a pinned range
// PUT /api/local/:reviewId/context-files/:contextFileId
func (h *ContextFileHandler) UpdateRange(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	id, ok := int64Param(c, "contextFileId")
	if !ok {
		return
	}

	var req contextRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	if err := h.store.ContextFile().UpdateRange(reviewID, id, req.LineStart, req.LineEnd); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// Remove unpins one range, or every range when no id is given
// DELETE /api/local/:reviewId/context-files[/:contextFileId]
func (h *ContextFileHandler) Remove(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	if raw := c.Param("contextFileId"); raw != "" {
		id, ok := int64Param(c, "contextFileId")
		if !ok {
			return
		}
		if err := h.store.ContextFile().Remove(reviewID, id); err != nil {
			abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if err := h.store.ContextFile().RemoveAll(reviewID); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
