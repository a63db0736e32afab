package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/apperr"
	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/triage"
)

// ChatHandler exposes the triage lifecycle over HTTP. All authorization
// happens in the service; the handler only parses and maps errors.
type ChatHandler struct {
	svc    *triage.Service
	logger *zap.Logger
}

func NewChatHandler(svc *triage.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

type createChatRequest struct {
	DistrictID         string `json:"districtId" binding:"required"`
	InitialDescription string `json:"initialDescription" binding:"required"`
}

// Create handles POST /v1/chats
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	districtID, ok := parseOptionalID(c, &req.DistrictID)
	if !ok {
		return
	}

	chat, err := h.svc.CreateChat(c.Request.Context(), middleware.GetActor(c), *districtID, req.InitialDescription)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// List handles GET /v1/chats?status=queued&districtId=...
func (h *ChatHandler) List(c *gin.Context) {
	var q triage.ListChatsQuery

	if raw := c.Query("status"); raw != "" {
		status := models.ChatStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
			return
		}
		q.Status = &status
	}
	if raw := c.Query("districtId"); raw != "" {
		districtID, ok := parseOptionalID(c, &raw)
		if !ok {
			return
		}
		q.DistrictID = districtID
	}

	chats, err := h.svc.ListChats(c.Request.Context(), middleware.GetActor(c), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// GetByID handles GET /v1/chats/:id
func (h *ChatHandler) GetByID(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.svc.GetChat(c.Request.Context(), middleware.GetActor(c), chatID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type updateChatRequest struct {
	Status *string `json:"status"`
}

// Update handles PATCH /v1/chats/:id
func (h *ChatHandler) Update(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var upd triage.ChatUpdate
	if req.Status != nil {
		status := models.ChatStatus(*req.Status)
		upd.Status = &status
	}

	chat, err := h.svc.UpdateChat(c.Request.Context(), middleware.GetActor(c), chatID, upd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

type createMessageRequest struct {
	Body        string   `json:"body" binding:"required"`
	Attachments []string `json:"attachments"`
}

const maxAttachmentsPerMessage = 10

// CreateMessage handles POST /v1/chats/:id/messages
func (h *ChatHandler) CreateMessage(c *gin.Context) {
	chatID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Attachments) > maxAttachmentsPerMessage {
		respondError(c, h.logger, fmt.Errorf("%w: too many attachments", apperr.ErrInvalidRequest))
		return
	}

	message, err := h.svc.PostMessage(c.Request.Context(), middleware.GetActor(c), chatID, req.Body, req.Attachments)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}
