package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/directory"
	"github.com/carelink-health/carelink/internal/middleware"
)

type DistrictHandler struct {
	svc    *directory.Service
	logger *zap.Logger
}

func NewDistrictHandler(svc *directory.Service, logger *zap.Logger) *DistrictHandler {
	return &DistrictHandler{svc: svc, logger: logger}
}

// List handles GET /v1/districts
func (h *DistrictHandler) List(c *gin.Context) {
	districts, err := h.svc.ListDistricts(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, districts)
}

type createDistrictRequest struct {
	Name        string `json:"name" binding:"required"`
	Address     string `json:"address"`
	ContactInfo string `json:"contactInfo"`
}

// Create handles POST /v1/districts
func (h *DistrictHandler) Create(c *gin.Context) {
	var req createDistrictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	district, err := h.svc.CreateDistrict(c.Request.Context(), middleware.GetActor(c), req.Name, req.Address, req.ContactInfo)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, district)
}

type updateDistrictRequest struct {
	Name        *string `json:"name"`
	Address     *string `json:"address"`
	ContactInfo *string `json:"contactInfo"`
}

// Update handles PATCH /v1/districts/:id
func (h *DistrictHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateDistrictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	district, err := h.svc.UpdateDistrict(c.Request.Context(), middleware.GetActor(c), id, directory.DistrictUpdate{
		Name:        req.Name,
		Address:     req.Address,
		ContactInfo: req.ContactInfo,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, district)
}

// Delete handles DELETE /v1/districts/:id
func (h *DistrictHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteDistrict(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
