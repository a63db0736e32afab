package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/auth"
	"github.com/carelink-health/carelink/internal/directory"
	"github.com/carelink-health/carelink/internal/middleware"
)

// AuthHandler serves the OAuth login round trip and the session's own
// profile endpoints.
type AuthHandler struct {
	oauth     *auth.OAuthService
	directory *directory.Service
	logger    *zap.Logger
}

func NewAuthHandler(oauth *auth.OAuthService, dir *directory.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{oauth: oauth, directory: dir, logger: logger}
}

// GoogleLogin handles GET /v1/auth/google/login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	url, err := h.oauth.LoginURL(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GoogleCallback handles GET /v1/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state or code"})
		return
	}

	user, token, err := h.oauth.HandleCallback(c.Request.Context(), state, code)
	if err != nil {
		h.logger.Warn("oauth callback rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me handles GET /v1/me
func (h *AuthHandler) Me(c *gin.Context) {
	actor := middleware.GetActor(c)

	user, err := h.directory.GetUser(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateMeRequest struct {
	Name       *string `json:"name"`
	DistrictID *string `json:"districtId"`
}

// UpdateMe handles PATCH /v1/me
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	districtID, ok := parseOptionalID(c, req.DistrictID)
	if !ok {
		return
	}

	user, err := h.directory.UpdateSelf(c.Request.Context(), middleware.GetActor(c), req.Name, districtID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
