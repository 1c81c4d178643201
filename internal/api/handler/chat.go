package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// ChatHandler serves the per-comment discussion threads
type ChatHandler struct {
	store store.Store
}

// NewChatHandler creates a chat handler
func NewChatHandler(s store.Store) *ChatHandler {
	return &ChatHandler{store: s}
}

// GetThread returns the comment's chat session with messages
// GET /api/local/:reviewId/comments/:commentId/chat
func (h *ChatHandler) GetThread(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	commentID, ok := int64Param(c, "commentId")
	if !ok {
		return
	}
	if _, err := h.store.Comment().GetByID(reviewID, commentID); err != nil {
		abortError(c, err)
		return
	}

	session, err := h.store.Chat().GetSessionByComment(commentID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			c.JSON(http.StatusOK, gin.H{"session": nil, "messages": []model.ChatMessage{}})
			return
		}
		abortError(c, err)
		return
	}

	messages, err := h.store.Chat().GetMessages(session.ID)
	if err != nil {
		abortError(c, err)
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

type appendMessageRequest struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
}

// AppendMessage adds a message to the comment's thread, creating the session
// on first use
// POST /api/local/:reviewId/comments/:commentId/chat
func (h *ChatHandler) AppendMessage(c *gin.Context) {
	reviewID, ok := reviewIDParam(c)
	if !ok {
		return
	}
	commentID, ok := int64Param(c, "commentId")
	if !ok {
		return
	}
	if _, err := h.store.Comment().GetByID(reviewID, commentID); err != nil {
		abortError(c, err)
		return
	}

	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}
	if req.Role != "user" && req.Role != "assistant" {
		abortError(c, errors.ErrValidation("role must be user or assistant"))
		return
	}
	if req.Content == "" {
		abortError(c, errors.ErrValidation("content is required"))
		return
	}

	session, err := h.store.Chat().GetSessionByComment(commentID)
	if err != nil {
		if !errors.IsCode(err, errors.ErrCodeNotFound) {
			abortError(c, err)
			return
		}
		session = &model.ChatSession{
			ReviewID:  reviewID,
			CommentID: commentID,
			Provider:  req.Provider,
		}
		if err := h.store.Chat().CreateSession(session); err != nil {
			abortError(c, err)
			return
		}
	}

	msg := &model.ChatMessage{
		SessionID: session.ID,
		Role:      req.Role,
		Content:   req.Content,
	}
	if err := h.store.Chat().AppendMessage(msg); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "sessionId": session.ID, "message": msg})
}
