package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskforum/backend/internal/logging"
	"taskforum/backend/internal/middleware"
	"taskforum/backend/internal/models"
	"taskforum/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultStoreTimeout = 5 * time.Second

type TaskHandler struct {
	db           *gorm.DB
	taskService  services.TaskService
	storeTimeout time.Duration
	log          *logrus.Logger
}

func NewTaskHandler(db *gorm.DB, taskService services.TaskService, storeTimeout time.Duration, log *logrus.Logger) *TaskHandler {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	if log == nil {
		log = logging.Discard()
	}
	return &TaskHandler{db: db, taskService: taskService, storeTimeout: storeTimeout, log: log}
}

func (h *TaskHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("", h.ListPublicTasks)
	group.POST("", h.CreateTask)
	group.GET("/user", h.ListUserTasks)
	group.PUT("/:id/complete", h.CompleteTask)
	group.PUT("/:id/privacy", h.SetTaskPrivacy)
}

type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	IsPublic    *bool  `json:"is_public"`
}

type privacyRequest struct {
	IsPublic *bool `json:"is_public"`
}

func (h *TaskHandler) ListPublicTasks(c *gin.Context) {
	db, ctx, cancel := h.store(c)
	defer cancel()

	tasks, err := h.taskService.ListPublicTasks(db, services.PublicFeedLimit)
	if err != nil {
		h.handleTaskError(c, ctx, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var input createTaskRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidRequest(c, "body must be JSON with a title and an optional boolean is_public")
		return
	}
	if strings.TrimSpace(input.Title) == "" {
		invalidRequest(c, "title must not be blank")
		return
	}

	newTask := services.NewTask{
		Title:       input.Title,
		Description: input.Description,
	}
	if input.IsPublic != nil {
		newTask.IsPublic = *input.IsPublic
	}

	db, ctx, cancel := h.store(c)
	defer cancel()

	task, err := h.taskService.CreateTask(db, principal.ID, newTask)
	if err != nil {
		h.handleTaskError(c, ctx, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) ListUserTasks(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	db, ctx, cancel := h.store(c)
	defer cancel()

	tasks, err := h.taskService.ListUserTasks(db, principal.ID)
	if err != nil {
		h.handleTaskError(c, ctx, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) CompleteTask(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	db, ctx, cancel := h.store(c)
	defer cancel()

	task, err := h.taskService.CompleteTask(db, principal.ID, id)
	if err != nil {
		h.handleTaskError(c, ctx, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) SetTaskPrivacy(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var input privacyRequest
	if err := c.ShouldBindJSON(&input); err != nil || input.IsPublic == nil {
		invalidRequest(c, "is_public must be a boolean")
		return
	}

	db, ctx, cancel := h.store(c)
	defer cancel()

	task, err := h.taskService.SetTaskPrivacy(db, principal.ID, id, *input.IsPublic)
	if err != nil {
		h.handleTaskError(c, ctx, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// store scopes the database handle to the request with the store timeout.
func (h *TaskHandler) store(c *gin.Context) (*gorm.DB, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
	return h.db.WithContext(ctx), ctx, cancel
}

func requirePrincipal(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.CurrentIdentity(c).Principal()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Missing or invalid token",
		})
		return models.Principal{}, false
	}
	return principal, true
}

func taskIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		invalidRequest(c, "task id must be a positive integer")
		return 0, false
	}
	return id, true
}

func invalidRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}

func (h *TaskHandler) handleTaskError(c *gin.Context, ctx context.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "task_not_found",
			"message": "Task not found or not yours",
		})
	case errors.Is(err, services.ErrInvalidTask):
		invalidRequest(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		h.logFailure(c, err).Warn("task store timed out")
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":   "store_timeout",
			"message": "The task store did not respond in time",
		})
	default:
		h.logFailure(c, err).Error("task store request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process task request",
		})
	}
}

func (h *TaskHandler) logFailure(c *gin.Context, err error) *logrus.Entry {
	c.Error(err)
	return h.log.WithFields(logrus.Fields{
		"request_id": c.GetString(middleware.RequestIDKey),
		"route":      c.FullPath(),
		"identity":   middleware.CurrentIdentity(c).String(),
	}).WithError(err)
}
