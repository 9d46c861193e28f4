package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SenderAI marks messages written by the assistant. User messages carry the
// author's id instead.
const SenderAI = "ai"

type ChatThread struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;index;not null"`
	Title     string    `json:"title" gorm:"not null"`
	Renamed   bool      `json:"renamed" gorm:"default:false"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t *ChatThread) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// DefaultThreadTitle is used until the thread is renamed or gets its first
// message.
func DefaultThreadTitle(at time.Time) string {
	return "Chat on " + at.Format("Jan 2, 2006")
}

type ChatMessage struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ThreadID  uuid.UUID `json:"threadId" gorm:"type:uuid;index;not null"`
	Sender    string    `json:"sender" gorm:"not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m ChatMessage) FromAI() bool { return m.Sender == SenderAI }

// Chat DTOs
type CreateThreadRequest struct {
	Title *string `json:"title" validate:"omitempty,max=120"`
}

type RenameThreadRequest struct {
	Title string `json:"title" validate:"max=120"`
}

type SendMessageRequest struct {
	Content     string `json:"content" validate:"required,max=4000"`
	ConciseMode bool   `json:"conciseMode"`
}
