package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// CommentHandler serves user comment and suggestion lifecycle endpoints
type CommentHandler struct {
	store store.Store
}

// NewCommentHandler creates a comment handler
func NewCommentHandler(s store.Store) *CommentHandler {
	return &CommentHandler{store: s}
}

type createCommentRequest struct {
	File        string `json:"file"`
	Line        *int   `json:"line,omitempty"`
	LineStart   *int   `json:"line_start,omitempty"`
	LineEnd     *int   `json:"line_end,omitempty"`
	Side        string `json:"side,omitempty"`
	Body        string `json:"body"`
	IsFileLevel bool   `json:"is_file_level,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
}

// Create adds a user comment on a line range or a whole file
// POST /api/local/:reviewId/user-comments
func (h *CommentHandler) Create(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	if _, ok := loadLocalReview(h.store, c, reviewID); !ok {
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	lineStart := req.LineStart
	if lineStart == nil {
		lineStart = req.Line
	}

	comment := &model.Comment{
		ReviewID:    reviewID,
		File:        req.File,
		LineStart:   lineStart,
		LineEnd:     req.LineEnd,
		Side:        model.CommentSide(req.Side),
		Body:        req.Body,
		IsFileLevel: req.IsFileLevel,
		CommitSHA:   req.CommitSHA,
	}
	if err := h.store.Comment().CreateUserComment(comment); err != nil {
		abortError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "commentId": comment.ID, "comment": comment})
}

// List returns the review's user comments
// GET /api/local/:reviewId/user-comments?includeDismissed=true
func (h *CommentHandler) List(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	includeDismissed := c.Query("includeDismissed") == "true"
	comments, err := h.store.Comment().ListUserComments(reviewID, includeDismissed)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comments": comments})
}

type updateCommentRequest struct {
	Body string `json:"body"`
}

// Update replaces a comment's body
// PUT /api/local/:reviewId/user-comments/:commentId
func (h *CommentHandler) Update(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	commentID, ok := int64Param(c, "commentId")
	if !ok {
		return
	}

	var req updateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	if err := h.store.Comment().UpdateBody(reviewID, commentID, req.Body); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": commentID})
}

// Delete soft-deletes a comment. When the comment adopted an AI suggestion,
// the response names the suggestion that was dismissed with it.
// DELETE /api/local/:reviewId/user-comments/:commentId
func (h *CommentHandler) Delete(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	commentID, ok := int64Param(c, "commentId")
	if !ok {
		return
	}

	dismissedID, err := h.store.Comment().SoftDelete(reviewID, commentID)
	if err != nil {
		abortError(c, err)
		return
	}

	resp := gin.H{"success": true}
	if dismissedID != nil {
		resp["dismissedSuggestionId"] = *dismissedID
	}
	c.JSON(http.StatusOK, resp)
}

// BulkDelete soft-deletes every active user comment on the review
// DELETE /api/local/:reviewId/user-comments
func (h *CommentHandler) BulkDelete(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}

	count, dismissedIDs, err := h.store.Comment().BulkSoftDelete(reviewID)
	if err != nil {
		abortError(c, err)
		return
	}
	if dismissedIDs == nil {
		dismissedIDs = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":                true,
		"deletedCount":           count,
		"dismissedSuggestionIds": dismissedIDs,
	})
}

// Restore reactivates a soft-deleted comment
// POST /api/local/:reviewId/user-comments/:commentId/restore
func (h *CommentHandler) Restore(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	commentID, ok := int64Param(c, "commentId")
	if !ok {
		return
	}

	if err := h.store.Comment().Restore(reviewID, commentID); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": commentID})
}

type adoptRequest struct {
	Author string `json:"author,omitempty"`
}

// Adopt copies an AI suggestion into a user comment, reactivating a prior
// adoption instead of duplicating it
// POST /api/local/:reviewId/suggestions/:suggestionId/adopt
func (h *CommentHandler) Adopt(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	suggestionID, ok := int64Param(c, "suggestionId")
	if !ok {
		return
	}

	var req adoptRequest
	// Body is optional
	_ = c.ShouldBindJSON(&req)

	comment, err := h.store.Comment().Adopt(reviewID, suggestionID, req.Author)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": comment.ID, "comment": comment})
}

type suggestionStatusRequest struct {
	Status string `json:"status"`
}

// UpdateSuggestionStatus moves an AI suggestion between active, dismissed and
// adopted
// PUT /api/local/:reviewId/suggestions/:suggestionId/status
func (h *CommentHandler) UpdateSuggestionStatus(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	suggestionID, ok := int64Param(c, "suggestionId")
	if !ok {
		return
	}

	var req suggestionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	status := model.CommentStatus(req.Status)
	switch status {
	case model.CommentStatusActive, model.CommentStatusDismissed, model.CommentStatusAdopted:
	default:
		abortError(c, errors.ErrValidation("status must be active, dismissed or adopted"))
		return
	}

	if err := h.store.Comment().UpdateSuggestionStatus(reviewID, suggestionID, status, nil); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": suggestionID, "status": status})
}
