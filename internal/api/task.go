package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/models"
	"github.com/carelink-health/carelink/internal/repository"
)

// TaskHandler serves a worker's private task list. Scoping is enforced at
// the repository layer — every query carries the session worker's id — so
// the handler only guards the role and validates input.
type TaskHandler struct {
	repo   repository.TaskRepository
	logger *zap.Logger
}

func NewTaskHandler(repo repository.TaskRepository, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{repo: repo, logger: logger}
}

type createTaskRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	DueAt           *time.Time `json:"dueAt"`
	Priority        string     `json:"priority"`
	LinkedPatientID *string    `json:"linkedPatientId"`
	LinkedChatID    *string    `json:"linkedChatId"`
}

// Create handles POST /v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.Role != models.RoleHealthcareWorker {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	priority := models.TaskMedium
	if req.Priority != "" {
		priority = models.TaskPriority(req.Priority)
		if !priority.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority: " + req.Priority})
			return
		}
	}
	patientID, ok := parseOptionalID(c, req.LinkedPatientID)
	if !ok {
		return
	}
	chatID, ok := parseOptionalID(c, req.LinkedChatID)
	if !ok {
		return
	}

	task, err := h.repo.Create(c.Request.Context(), models.Task{
		Title:             req.Title,
		Description:       req.Description,
		DueAt:             req.DueAt,
		Priority:          priority,
		Status:            models.TaskTodo,
		LinkedPatientID:   patientID,
		LinkedChatID:      chatID,
		CreatedByWorkerID: actor.ID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// List handles GET /v1/tasks?status=todo&patientId=...&chatId=...
func (h *TaskHandler) List(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.Role != models.RoleHealthcareWorker {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var filter repository.TaskFilter
	if raw := c.Query("status"); raw != "" {
		status := models.TaskStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("patientId"); raw != "" {
		id, ok := parseOptionalID(c, &raw)
		if !ok {
			return
		}
		filter.LinkedPatientID = id
	}
	if raw := c.Query("chatId"); raw != "" {
		id, ok := parseOptionalID(c, &raw)
		if !ok {
			return
		}
		filter.LinkedChatID = id
	}

	tasks, err := h.repo.List(c.Request.Context(), actor.ID, filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueAt       *time.Time `json:"dueAt"`
	ClearDueAt  bool       `json:"clearDueAt"`
	Priority    *string    `json:"priority"`
	Status      *string    `json:"status"`
}

// Update handles PATCH /v1/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.Role != models.RoleHealthcareWorker {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	taskID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title cannot be empty"})
		return
	}

	upd := repository.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
	}
	if req.DueAt != nil || req.ClearDueAt {
		upd.DueAt = req.DueAt
		upd.SetDueAt = true
	}
	if req.Priority != nil {
		priority := models.TaskPriority(*req.Priority)
		if !priority.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority: " + *req.Priority})
			return
		}
		upd.Priority = &priority
	}
	if req.Status != nil {
		status := models.TaskStatus(*req.Status)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + *req.Status})
			return
		}
		upd.Status = &status
	}

	task, err := h.repo.Update(c.Request.Context(), actor.ID, taskID, upd)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	// The scoped UPDATE matches nothing for tasks the worker does not own;
	// not-found and not-yours are indistinguishable on purpose.
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// Delete handles DELETE /v1/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	actor := middleware.GetActor(c)
	if actor.Role != models.RoleHealthcareWorker {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	taskID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(c.Request.Context(), actor.ID, taskID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
