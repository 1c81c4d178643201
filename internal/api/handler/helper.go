// Package handler provides HTTP handlers for the API.
package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// abortError attaches an error for the ErrorHandler middleware to render
func abortError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// reviewIDParam parses the :reviewId path parameter
func reviewIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("reviewId"), 10, 64)
	if err != nil || id <= 0 {
		abortError(c, errors.ErrValidation("invalid review id"))
		return 0, false
	}
	return id, true
}

// int64Param parses a path parameter as a positive integer id
func int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		abortError(c, errors.ErrValidation("invalid "+name))
		return 0, false
	}
	return id, true
}

// loadLocalReview fetches a review and verifies it is a local session
func loadLocalReview(s store.Store, c *gin.Context, id int64) (*model.Review, bool) {
	review, err := s.Review().GetByID(id)
	if err != nil {
		abortError(c, err)
		return nil, false
	}
	if review.ReviewType != model.ReviewTypeLocal {
		abortError(c, errors.ErrValidation("review is not a local session"))
		return nil, false
	}
	return review, true
}

// parseBeforeQuery parses the optional ?before=<iso8601> pagination cursor
func parseBeforeQuery(c *gin.Context) (*time.Time, bool) {
	raw := c.Query("before")
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		abortError(c, errors.ErrValidation("invalid before timestamp, expected RFC3339"))
		return nil, false
	}
	return &t, true
}

// parseLimitQuery parses ?limit=<n> with a default and a ceiling
func parseLimitQuery(c *gin.Context, def, ceiling int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > ceiling {
		return ceiling
	}
	return n
}
