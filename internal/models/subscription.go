package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PlanFree    = "free"
	PlanMonthly = "monthly"
	PlanAnnual  = "annual"
)

type Subscription struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID  `json:"userId" gorm:"type:uuid;uniqueIndex;not null"`
	Plan             string     `json:"plan" gorm:"not null;default:'free'"`
	Status           string     `json:"status" gorm:"not null;default:'active'"` // active, canceled, past_due
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// EffectivePlan downgrades inactive or lapsed subscriptions to the free plan.
func (s *Subscription) EffectivePlan(now time.Time) string {
	if s == nil || s.Status != "active" {
		return PlanFree
	}
	if s.CurrentPeriodEnd != nil && now.After(*s.CurrentPeriodEnd) {
		return PlanFree
	}
	switch s.Plan {
	case PlanMonthly, PlanAnnual:
		return s.Plan
	default:
		return PlanFree
	}
}

// UsageRecord holds one user's counters for one calendar day.
type UsageRecord struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `json:"userId" gorm:"type:uuid;uniqueIndex:idx_usage_user_date;not null"`
	Date         string    `json:"date" gorm:"size:10;uniqueIndex:idx_usage_user_date;not null"` // yyyy-mm-dd
	GoalsCreated int       `json:"goalsCreated" gorm:"not null;default:0"`
	MessagesSent int       `json:"messagesSent" gorm:"not null;default:0"`
}

func (UsageRecord) TableName() string { return "usage_tracking" }

func (u *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type PlanLimits struct {
	GoalsPerDay    int `json:"goalsPerDay"`
	MessagesPerDay int `json:"messagesPerDay"`
}

var Limits = map[string]PlanLimits{
	PlanFree:    {GoalsPerDay: 3, MessagesPerDay: 20},
	PlanMonthly: {GoalsPerDay: 25, MessagesPerDay: 200},
	PlanAnnual:  {GoalsPerDay: 25, MessagesPerDay: 200},
}
