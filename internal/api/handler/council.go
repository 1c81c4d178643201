package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// CouncilHandler serves saved voice plan management
type CouncilHandler struct {
	store store.Store
}

// NewCouncilHandler creates a council handler
func NewCouncilHandler(s store.Store) *CouncilHandler {
	return &CouncilHandler{store: s}
}

type councilRequest struct {
	Name   string              `json:"name"`
	Type   string              `json:"type"`
	Config model.CouncilConfig `json:"config"`
}

func (r *councilRequest) configJSON(c *gin.Context) (string, bool) {
	if len(r.Config) == 0 {
		abortError(c, errors.ErrValidation("config is required"))
		return "", false
	}
	raw, err := json.Marshal(r.Config)
	if err != nil {
		abortError(c, errors.ErrValidation("config is not serializable"))
		return "", false
	}
	return string(raw), true
}

// List returns saved councils in most-recently-used order
// GET /api/councils
func (h *CouncilHandler) List(c *gin.Context) {
	councils, err := h.store.Council().List()
	if err != nil {
		abortError(c, err)
		return
	}
	if councils == nil {
		councils = []model.Council{}
	}
	c.JSON(http.StatusOK, gin.H{"councils": councils})
}

// Get returns one saved council
// GET /api/councils/:councilId
func (h *CouncilHandler) Get(c *gin.Context) {
	council, err := h.store.Council().GetByID(c.Param("councilId"))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, council)
}

// Create saves a new council
// POST /api/councils
func (h *CouncilHandler) Create(c *gin.Context) {
	var req councilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}
	if req.Name == "" {
		abortError(c, errors.ErrValidation("name is required"))
		return
	}
	cfgJSON, ok := req.configJSON(c)
	if !ok {
		return
	}

	council := &model.Council{
		Name:   req.Name,
		Type:   model.CouncilType(req.Type),
		Config: cfgJSON,
	}
	if council.Type == "" {
		council.Type = model.CouncilTypeCouncil
	}
	if err := h.store.Council().Create(council); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, council)
}

// Update replaces a council's name, type and config
// PUT /api/councils/:councilId
func (h *CouncilHandler) Update(c *gin.Context) {
	council, err := h.store.Council().GetByID(c.Param("councilId"))
	if err != nil {
		abortError(c, err)
		return
	}

	var req councilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, errors.ErrValidation("invalid request body"))
		return
	}
	if req.Name != "" {
		council.Name = req.Name
	}
	if req.Type != "" {
		council.Type = model.CouncilType(req.Type)
	}
	if len(req.Config) > 0 {
		cfgJSON, ok := req.configJSON(c)
		if !ok {
			return
		}
		council.Config = cfgJSON
	}

	if err := h.store.Council().Update(council); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, council)
}

// Delete removes a saved council
// DELETE /api/councils/:councilId
func (h *CouncilHandler) Delete(c *gin.Context) {
	if err := h.store.Council().Delete(c.Param("councilId")); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
