package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification types
const (
	NotifyContentFailed = "goal_content_failed"
	NotifyTasksReady    = "goal_tasks_ready"
	NotifyImageReady    = "goal_image_ready"
)

// Notification is an in-app message, mirrored as a push when the user has a
// device token.
type Notification struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;index:idx_notifications_user_read;not null"`
	Type      string    `json:"type" gorm:"size:40;not null"`
	Title     string    `json:"title" gorm:"not null"`
	Body      string    `json:"body"`
	Read      bool      `json:"read" gorm:"index:idx_notifications_user_read;default:false"`
	Metadata  *string   `json:"metadata"` // JSON object, e.g. {"goalId": "..."}
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// SetMetadata stores data as the JSON metadata column. Nil clears it.
func (n *Notification) SetMetadata(data map[string]interface{}) error {
	if data == nil {
		n.Metadata = nil
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s := string(raw)
	n.Metadata = &s
	return nil
}
