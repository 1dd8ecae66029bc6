package models

import (
	"time"
)

type Task struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID     string    `json:"user_id" gorm:"column:user_id;type:uuid;not null;index"`
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	IsPublic    bool      `json:"is_public" gorm:"not null;default:false;index"`
	IsCompleted bool      `json:"is_completed" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

func (Task) TableName() string {
	return "tasks"
}
