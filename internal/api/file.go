package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/audit"
	"github.com/carelink-health/carelink/internal/blob"
	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/policy"
	"github.com/carelink-health/carelink/internal/repository"
	"github.com/carelink-health/carelink/internal/triage"
)

const maxUploadBytes = 8 << 20

// FileHandler moves attachment bytes between clients and the blob store.
// The metadata row in Postgres carries ownership and chat scoping; access
// checks replay the chat policy on every download.
type FileHandler struct {
	files    repository.FileRepository
	store    *blob.Store
	triage   *triage.Service
	eval     *policy.Evaluator
	recorder *audit.Recorder
	logger   *zap.Logger
}

func NewFileHandler(
	files repository.FileRepository,
	store *blob.Store,
	triageSvc *triage.Service,
	eval *policy.Evaluator,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *FileHandler {
	return &FileHandler{
		files:    files,
		store:    store,
		triage:   triageSvc,
		eval:     eval,
		recorder: recorder,
		logger:   logger,
	}
}

func allowedMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || mimeType == "application/pdf"
}

// Upload handles POST /v1/files (multipart; fields: file, optional chatId).
func (h *FileHandler) Upload(c *gin.Context) {
	actor := middleware.GetActor(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 8 MiB"})
		return
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	if !allowedMimeType(mimeType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only images and PDFs are accepted"})
		return
	}

	var chatID *uuid.UUID
	if raw := c.PostForm("chatId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chatId"})
			return
		}
		// Uploading into a chat requires access to that chat.
		if err := h.triage.AuthorizeChatRead(c.Request.Context(), actor, id); err != nil {
			respondError(c, h.logger, err)
			return
		}
		chatID = &id
	}

	// The random segment keeps pathnames unguessable and collision-free.
	filename := path.Base(fileHeader.Filename)
	var pathname string
	if chatID != nil {
		pathname = fmt.Sprintf("chats/%s/%s-%s", chatID, uuid.NewString(), filename)
	} else {
		pathname = fmt.Sprintf("users/%s/%s-%s", actor.ID, uuid.NewString(), filename)
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer src.Close()

	if err := h.store.Put(c.Request.Context(), pathname, mimeType, src); err != nil {
		respondError(c, h.logger, err)
		return
	}

	file, err := h.files.Create(c.Request.Context(), models.File{
		OwnerID:  actor.ID,
		ChatID:   chatID,
		Pathname: pathname,
		Filename: filename,
		MimeType: mimeType,
		Size:     fileHeader.Size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.recorder.Try(c.Request.Context(), actor.ID, audit.ActionFileUploaded, map[string]any{
		"fileId":   file.ID,
		"pathname": file.Pathname,
		"chatId":   file.ChatID,
		"size":     file.Size,
	})

	c.JSON(http.StatusCreated, file)
}

// Download handles GET /v1/files/*pathname
func (h *FileHandler) Download(c *gin.Context) {
	actor := middleware.GetActor(c)
	pathname := strings.TrimPrefix(c.Param("pathname"), "/")
	if pathname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pathname"})
		return
	}

	file, err := h.files.GetByPathname(c.Request.Context(), pathname)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if file == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	var chat *models.Chat
	if file.ChatID != nil {
		if chat, err = h.triage.GetChatSnapshot(c.Request.Context(), *file.ChatID); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	if !h.eval.CanAccessFile(actor, file, chat) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	body, err := h.store.Get(c.Request.Context(), file.Pathname)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", file.Filename),
	})
}
