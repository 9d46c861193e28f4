package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Task struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	GoalID         uuid.UUID `json:"goalId" gorm:"type:uuid;index;not null"`
	Title          string    `json:"title" gorm:"not null"`
	Description    string    `json:"description"`
	ArticleContent *string   `json:"articleContent"`
	OrderNumber    int       `json:"orderNumber" gorm:"not null;default:0"`
	Completed      bool      `json:"completed" gorm:"default:false"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Task DTOs
type CreateTaskRequest struct {
	Title          string  `json:"title" validate:"required,max=200"`
	Description    string  `json:"description" validate:"max=2000"`
	ArticleContent *string `json:"articleContent"`
}
