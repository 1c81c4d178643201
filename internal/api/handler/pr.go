package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/remote"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// PRHandler serves pull-request mode reviews backed by the remote source
type PRHandler struct {
	store  store.Store
	source remote.Source
}

// NewPRHandler creates a PR handler
func NewPRHandler(s store.Store, source remote.Source) *PRHandler {
	return &PRHandler{store: s, source: source}
}

// Get fetches PR metadata from the hosting service and upserts the review
// GET /api/pr/:owner/:repo/:number?includeDiff=true
func (h *PRHandler) Get(c *gin.Context) {
	owner := c.Param("owner")
	repo := c.Param("repo")
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		abortError(c, errors.ErrValidation("invalid pull request number"))
		return
	}

	pr, err := h.source.GetPullRequest(c.Request.Context(), owner, repo, number)
	if err != nil {
		abortError(c, err)
		return
	}

	repository := fmt.Sprintf("%s/%s", owner, repo)
	review, created, err := h.store.Review().UpsertPR(repository, number)
	if err != nil {
		abortError(c, err)
		return
	}
	if review.Name == "" && pr.Title != "" {
		if err := h.store.Review().UpdateName(review.ID, pr.Title); err == nil {
			review.Name = pr.Title
		}
	}

	resp := gin.H{
		"review":      review,
		"created":     created,
		"pullRequest": pr,
	}
	if c.Query("includeDiff") == "true" {
		diff, err := h.source.GetPullRequestDiff(c.Request.Context(), owner, repo, number)
		if err != nil {
			abortError(c, err)
			return
		}
		resp["diff"] = diff
	}
	c.JSON(http.StatusOK, resp)
}
