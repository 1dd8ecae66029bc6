package models_test

import (
	"testing"

	"taskforum/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTask_TableName(t *testing.T) {
	if got := (models.Task{}).TableName(); got != "tasks" {
		t.Errorf("Expected table 'tasks', got '%s'", got)
	}
}

func TestIdentity_ZeroValueIsAnonymous(t *testing.T) {
	var id models.Identity

	assert.True(t, id.IsAnonymous())
	_, ok := id.Principal()
	assert.False(t, ok)
	assert.Equal(t, "anonymous", id.String())
}

func TestIdentity_Authenticated(t *testing.T) {
	id := models.Authenticated(models.Principal{ID: "user-a", Email: "a@example.com"})

	p, ok := id.Principal()
	assert.True(t, ok)
	assert.False(t, id.IsAnonymous())
	assert.Equal(t, "user-a", p.ID)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, "principal:user-a", id.String())
}

func TestIdentity_AuthenticatedWithoutIDIsAnonymous(t *testing.T) {
	id := models.Authenticated(models.Principal{Email: "nobody@example.com"})

	assert.True(t, id.IsAnonymous())
}

func TestIdentity_PrincipalIsACopy(t *testing.T) {
	id := models.Authenticated(models.Principal{ID: "user-a"})

	p, _ := id.Principal()
	p.ID = "user-b"

	again, _ := id.Principal()
	assert.Equal(t, "user-a", again.ID)
}
