package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/pkg/errors"
)

// IngestHandler accepts externally produced analysis results
type IngestHandler struct {
	engine *orchestrator.Engine
}

// NewIngestHandler creates an ingestion handler
func NewIngestHandler(e *orchestrator.Engine) *IngestHandler {
	return &IngestHandler{engine: e}
}

// Ingest records external results as a synthetic completed run
// POST /api/analyses/results
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req orchestrator.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}

	result, err := h.engine.Ingest(c.Request.Context(), &req)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
