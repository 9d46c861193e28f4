package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Goal struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID  `json:"userId" gorm:"type:uuid;index;not null"`
	Title        string     `json:"title" gorm:"not null"`
	Description  *string    `json:"description"`
	TargetDate   *time.Time `json:"targetDate"`
	Completed    bool       `json:"completed" gorm:"default:false"`
	TaskSummary  *string    `json:"taskSummary"`
	ImageURL     *string    `json:"imageUrl"`
	ImageLoading bool       `json:"imageLoading" gorm:"index;default:false"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`

	// View state, never persisted.
	ImageError   bool `json:"imageError" gorm:"-"`
	ImageRefresh bool `json:"imageRefresh" gorm:"-"`
	Progress     int  `json:"progress" gorm:"-"`

	Tasks []Task `json:"tasks,omitempty" gorm:"foreignKey:GoalID"`
}

func (g *Goal) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// Progress returns the rounded percentage of completed tasks.
func Progress(tasks []Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.Completed {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(tasks)) * 100))
}

// Goal DTOs
type CreateGoalRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	TargetDate  *time.Time `json:"targetDate"`
}

type UpdateGoalRequest struct {
	Title       *string    `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	TargetDate  *time.Time `json:"targetDate"`
	Completed   *bool      `json:"completed"`
	TaskSummary *string    `json:"taskSummary"`
	ImageURL    *string    `json:"imageUrl" validate:"omitnil,min=1"`
}

// Changes returns the columns the patch sets, keyed by column name. Fields
// left nil are absent so concurrent writers keep their values.
func (r *UpdateGoalRequest) Changes() map[string]interface{} {
	m := make(map[string]interface{})
	if r.Title != nil {
		m["title"] = *r.Title
	}
	if r.Description != nil {
		m["description"] = *r.Description
	}
	if r.TargetDate != nil {
		m["target_date"] = *r.TargetDate
	}
	if r.Completed != nil {
		m["completed"] = *r.Completed
	}
	if r.TaskSummary != nil {
		m["task_summary"] = *r.TaskSummary
	}
	if r.ImageURL != nil {
		m["image_url"] = *r.ImageURL
		m["image_loading"] = false
	}
	return m
}
