package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Quiz struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TaskID    uuid.UUID  `json:"taskId" gorm:"type:uuid;uniqueIndex;not null"`
	Title     string     `json:"title" gorm:"not null"`
	Questions []Question `json:"questions" gorm:"serializer:json"`
}

// Question's CorrectOption indexes into Options.
type Question struct {
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectOption int      `json:"correctOption" validate:"gte=0"`
}

func (Quiz) TableName() string { return "quizzes" }

func (q *Quiz) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}
