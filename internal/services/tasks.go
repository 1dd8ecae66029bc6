package services

import (
	"errors"
	"strings"

	"taskforum/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PublicFeedLimit caps how many public tasks the feed returns.
const PublicFeedLimit = 20

var (
	// ErrTaskNotFound covers both a missing task and a task owned by someone
	// else; callers cannot tell the two apart.
	ErrTaskNotFound = errors.New("task not found or not owned by user")
	ErrInvalidTask  = errors.New("invalid task")
)

type NewTask struct {
	Title       string
	Description string
	IsPublic    bool
}

// TaskService is the task store. Every mutation on an existing task carries
// the owner id so that the ownership check and the write are one statement.
type TaskService interface {
	ListPublicTasks(db *gorm.DB, limit int) ([]models.Task, error)
	CreateTask(db *gorm.DB, ownerID string, input NewTask) (models.Task, error)
	ListUserTasks(db *gorm.DB, ownerID string) ([]models.Task, error)
	CompleteTask(db *gorm.DB, ownerID string, id int64) (models.Task, error)
	SetTaskPrivacy(db *gorm.DB, ownerID string, id int64, isPublic bool) (models.Task, error)
}

type TaskServiceImpl struct{}

func NewTaskService() *TaskServiceImpl {
	return &TaskServiceImpl{}
}

func (s *TaskServiceImpl) ListPublicTasks(db *gorm.DB, limit int) ([]models.Task, error) {
	if limit <= 0 || limit > PublicFeedLimit {
		limit = PublicFeedLimit
	}

	tasks := make([]models.Task, 0)
	result := db.Where("is_public = ?", true).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&tasks)
	return nonNil(tasks), result.Error
}

func (s *TaskServiceImpl) CreateTask(db *gorm.DB, ownerID string, input NewTask) (models.Task, error) {
	title := strings.TrimSpace(input.Title)
	if ownerID == "" || title == "" {
		return models.Task{}, ErrInvalidTask
	}

	task := models.Task{
		OwnerID:     ownerID,
		Title:       title,
		Description: input.Description,
		IsPublic:    input.IsPublic,
	}
	if err := db.Create(&task).Error; err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *TaskServiceImpl) ListUserTasks(db *gorm.DB, ownerID string) ([]models.Task, error) {
	tasks := make([]models.Task, 0)
	if ownerID == "" {
		return tasks, nil
	}

	result := db.Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&tasks)
	return nonNil(tasks), result.Error
}

func (s *TaskServiceImpl) CompleteTask(db *gorm.DB, ownerID string, id int64) (models.Task, error) {
	return s.updateOwned(db, ownerID, id, map[string]interface{}{"is_completed": true})
}

func (s *TaskServiceImpl) SetTaskPrivacy(db *gorm.DB, ownerID string, id int64, isPublic bool) (models.Task, error) {
	return s.updateOwned(db, ownerID, id, map[string]interface{}{"is_public": isPublic})
}

// updateOwned applies changes to the task only if ownerID owns it and returns
// the row as written. Nothing is read beforehand.
func (s *TaskServiceImpl) updateOwned(db *gorm.DB, ownerID string, id int64, changes map[string]interface{}) (models.Task, error) {
	if ownerID == "" || id <= 0 {
		return models.Task{}, ErrTaskNotFound
	}

	var tasks []models.Task
	result := db.Model(&tasks).
		Clauses(clause.Returning{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Updates(changes)
	if result.Error != nil {
		return models.Task{}, result.Error
	}
	if result.RowsAffected == 0 || len(tasks) == 0 {
		return models.Task{}, ErrTaskNotFound
	}

	return tasks[0], nil
}

func nonNil(tasks []models.Task) []models.Task {
	if tasks == nil {
		return []models.Task{}
	}
	return tasks
}
