package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/directory"
	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/models"
)

// UserHandler is the admin console's account management surface.
type UserHandler struct {
	svc    *directory.Service
	logger *zap.Logger
}

func NewUserHandler(svc *directory.Service, logger *zap.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

// List handles GET /v1/users?role=healthcare_worker
func (h *UserHandler) List(c *gin.Context) {
	var role *models.Role
	if raw := c.Query("role"); raw != "" {
		r := models.Role(raw)
		role = &r
	}

	users, err := h.svc.ListUsers(c.Request.Context(), middleware.GetActor(c), role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	Email      string  `json:"email" binding:"required"`
	Name       string  `json:"name"`
	Role       string  `json:"role" binding:"required"`
	DistrictID *string `json:"districtId"`
}

// Create handles POST /v1/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	districtID, ok := parseOptionalID(c, req.DistrictID)
	if !ok {
		return
	}

	user, err := h.svc.CreateUser(c.Request.Context(), middleware.GetActor(c), directory.CreateUserParams{
		Email:      req.Email,
		Name:       req.Name,
		Role:       models.Role(req.Role),
		DistrictID: districtID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type updateUserRequest struct {
	Name       *string `json:"name"`
	Role       *string `json:"role"`
	DistrictID *string `json:"districtId"`
	// ClearDistrict detaches the user from their district. Mutually
	// exclusive with districtId.
	ClearDistrict bool `json:"clearDistrict"`
}

// Update handles PATCH /v1/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	districtID, ok := parseOptionalID(c, req.DistrictID)
	if !ok {
		return
	}

	upd := directory.UserUpdate{Name: req.Name}
	if req.Role != nil {
		role := models.Role(*req.Role)
		upd.Role = &role
	}
	if districtID != nil || req.ClearDistrict {
		upd.DistrictID = districtID
		upd.SetDistrict = true
	}

	user, err := h.svc.UpdateUser(c.Request.Context(), middleware.GetActor(c), id, upd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Delete handles DELETE /v1/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteUser(c.Request.Context(), middleware.GetActor(c), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
