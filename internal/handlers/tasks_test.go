package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskforum/backend/internal/handlers"
	"taskforum/backend/internal/middleware"
	"taskforum/backend/internal/models"
	"taskforum/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ownerID    = "11111111-2222-4333-8444-555555555555"
	strangerID = "99999999-8888-4777-8666-555555555555"
)

type MockTaskService struct {
	tasks       []models.Task
	err         error
	blockOnCtx  bool
	calls       int
	lastOwnerID string
	lastTaskID  int64
	lastNewTask services.NewTask
	lastPublic  *bool
}

func (m *MockTaskService) record(db *gorm.DB, ownerID string, id int64) error {
	m.calls++
	m.lastOwnerID = ownerID
	m.lastTaskID = id
	if m.blockOnCtx {
		<-db.Statement.Context.Done()
		return db.Statement.Context.Err()
	}
	return m.err
}

func (m *MockTaskService) find(ownerID string, id int64) (models.Task, error) {
	for _, task := range m.tasks {
		if task.ID == id && task.OwnerID == ownerID {
			return task, nil
		}
	}
	return models.Task{}, services.ErrTaskNotFound
}

func (m *MockTaskService) ListPublicTasks(db *gorm.DB, limit int) ([]models.Task, error) {
	if err := m.record(db, "", 0); err != nil {
		return nil, err
	}
	public := []models.Task{}
	for _, task := range m.tasks {
		if task.IsPublic {
			public = append(public, task)
		}
	}
	return public, nil
}

func (m *MockTaskService) CreateTask(db *gorm.DB, ownerID string, input services.NewTask) (models.Task, error) {
	if err := m.record(db, ownerID, 0); err != nil {
		return models.Task{}, err
	}
	m.lastNewTask = input
	task := models.Task{
		ID:          int64(len(m.tasks) + 1),
		OwnerID:     ownerID,
		Title:       input.Title,
		Description: input.Description,
		IsPublic:    input.IsPublic,
		CreatedAt:   time.Now(),
	}
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *MockTaskService) ListUserTasks(db *gorm.DB, ownerID string) ([]models.Task, error) {
	if err := m.record(db, ownerID, 0); err != nil {
		return nil, err
	}
	owned := []models.Task{}
	for _, task := range m.tasks {
		if task.OwnerID == ownerID {
			owned = append(owned, task)
		}
	}
	return owned, nil
}

func (m *MockTaskService) CompleteTask(db *gorm.DB, ownerID string, id int64) (models.Task, error) {
	if err := m.record(db, ownerID, id); err != nil {
		return models.Task{}, err
	}
	task, err := m.find(ownerID, id)
	if err != nil {
		return task, err
	}
	task.IsCompleted = true
	return task, nil
}

func (m *MockTaskService) SetTaskPrivacy(db *gorm.DB, ownerID string, id int64, isPublic bool) (models.Task, error) {
	if err := m.record(db, ownerID, id); err != nil {
		return models.Task{}, err
	}
	m.lastPublic = &isPublic
	task, err := m.find(ownerID, id)
	if err != nil {
		return task, err
	}
	task.IsPublic = isPublic
	return task, nil
}

// setupTaskHandler mounts the task routes behind a stub that sets the given
// identity, the way Authenticate would.
func setupTaskHandler(t *testing.T, identity models.Identity) (*MockTaskService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	mockService := &MockTaskService{
		tasks: []models.Task{
			{ID: 1, OwnerID: ownerID, Title: "Owned private", IsPublic: false},
			{ID: 2, OwnerID: ownerID, Title: "Owned public", IsPublic: true},
			{ID: 3, OwnerID: strangerID, Title: "Someone else's", IsPublic: true},
		},
	}
	handler := handlers.NewTaskHandler(db, mockService, 50*time.Millisecond, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.IdentityKey, identity)
		c.Next()
	})
	handler.RegisterRoutes(router.Group("/api/tasks"))

	return mockService, router
}

func owner() models.Identity {
	return models.Authenticated(models.Principal{ID: ownerID, Email: "owner@example.com"})
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestListPublicTasks_Anonymous(t *testing.T) {
	_, router := setupTaskHandler(t, models.Anonymous())

	w := perform(router, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tasks []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.True(t, task.IsPublic)
	}
}

func TestListPublicTasks_EmptyIsArray(t *testing.T) {
	mockService, router := setupTaskHandler(t, models.Anonymous())
	mockService.tasks = nil

	w := perform(router, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestProtectedRoutes_RequireAuthentication(t *testing.T) {
	routes := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/tasks", `{"title":"x"}`},
		{http.MethodGet, "/api/tasks/user", ""},
		{http.MethodPut, "/api/tasks/1/complete", ""},
		{http.MethodPut, "/api/tasks/1/privacy", `{"is_public":true}`},
		// authentication is checked before the id is parsed
		{http.MethodPut, "/api/tasks/abc/complete", ""},
		// and before the body is validated
		{http.MethodPut, "/api/tasks/1/privacy", `{"is_public":"yes"}`},
		{http.MethodPost, "/api/tasks", `{"title":""}`},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			mockService, router := setupTaskHandler(t, models.Anonymous())

			w := perform(router, route.method, route.path, route.body)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthorized", errorCode(t, w))
			assert.Zero(t, mockService.calls)
		})
	}
}

func TestCreateTask_UsesPrincipalAsOwner(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodPost, "/api/tasks",
		`{"title":"New task","description":"details","is_public":true,"user_id":"`+strangerID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, ownerID, task.OwnerID)
	assert.Equal(t, "New task", task.Title)
	assert.True(t, task.IsPublic)
	assert.Equal(t, ownerID, mockService.lastOwnerID)
}

func TestCreateTask_DefaultsToPrivate(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodPost, "/api/tasks", `{"title":"Quiet task"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, mockService.lastNewTask.IsPublic)
}

func TestCreateTask_InvalidBody(t *testing.T) {
	bodies := map[string]string{
		"not json":         `invalid json`,
		"missing title":    `{"description":"no title"}`,
		"blank title":      `{"title":"   "}`,
		"non-boolean flag": `{"title":"x","is_public":"yes"}`,
		"empty body":       ``,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			mockService, router := setupTaskHandler(t, owner())

			w := perform(router, http.MethodPost, "/api/tasks", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_request", errorCode(t, w))
			assert.Zero(t, mockService.calls)
		})
	}
}

func TestListUserTasks_OnlyOwnTasks(t *testing.T) {
	_, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodGet, "/api/tasks/user", "")
	require.Equal(t, http.StatusOK, w.Code)

	var tasks []models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, ownerID, task.OwnerID)
	}
}

func TestListUserTasks_EmptyIsArray(t *testing.T) {
	_, router := setupTaskHandler(t, models.Authenticated(models.Principal{ID: "nobody"}))

	w := perform(router, http.MethodGet, "/api/tasks/user", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCompleteTask(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodPut, "/api/tasks/1/complete", "")
	require.Equal(t, http.StatusOK, w.Code)

	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.True(t, task.IsCompleted)
	assert.Equal(t, int64(1), mockService.lastTaskID)
	assert.Equal(t, ownerID, mockService.lastOwnerID)
}

func TestCompleteTask_NotOwnedIsNotFound(t *testing.T) {
	_, router := setupTaskHandler(t, owner())

	for _, path := range []string{"/api/tasks/3/complete", "/api/tasks/404/complete"} {
		w := perform(router, http.MethodPut, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, "task_not_found", errorCode(t, w))
	}
}

func TestCompleteTask_InvalidID(t *testing.T) {
	for _, id := range []string{"abc", "1.5", "0", "-3", "99999999999999999999"} {
		t.Run(id, func(t *testing.T) {
			mockService, router := setupTaskHandler(t, owner())

			w := perform(router, http.MethodPut, "/api/tasks/"+id+"/complete", "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, mockService.calls)
		})
	}
}

func TestSetTaskPrivacy(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodPut, "/api/tasks/1/privacy", `{"is_public":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.True(t, task.IsPublic)
	require.NotNil(t, mockService.lastPublic)
	assert.True(t, *mockService.lastPublic)

	w = perform(router, http.MethodPut, "/api/tasks/2/privacy", `{"is_public":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, *mockService.lastPublic)
}

func TestSetTaskPrivacy_InvalidBody(t *testing.T) {
	bodies := map[string]string{
		"missing flag": `{}`,
		"string flag":  `{"is_public":"true"}`,
		"numeric flag": `{"is_public":1}`,
		"null flag":    `{"is_public":null}`,
		"not json":     `nope`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			mockService, router := setupTaskHandler(t, owner())

			w := perform(router, http.MethodPut, "/api/tasks/1/privacy", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, mockService.calls)
		})
	}
}

func TestSetTaskPrivacy_NotOwnedIsNotFound(t *testing.T) {
	_, router := setupTaskHandler(t, owner())

	w := perform(router, http.MethodPut, "/api/tasks/3/privacy", `{"is_public":false}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreFailure(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())
	mockService.err = errors.New("connection reset by peer")

	w := perform(router, http.MethodGet, "/api/tasks/user", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorCode(t, w))
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestStoreTimeout(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())
	mockService.blockOnCtx = true

	w := perform(router, http.MethodPut, "/api/tasks/1/complete", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "store_timeout", errorCode(t, w))
}

func TestStoreTimeout_WrappedError(t *testing.T) {
	mockService, router := setupTaskHandler(t, owner())
	mockService.err = errors.Join(errors.New("query failed"), context.DeadlineExceeded)

	w := perform(router, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}
