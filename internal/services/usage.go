package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnold/goalcoach-api/internal/models"
)

var ErrLimitReached = errors.New("plan limit reached")

// LimitError describes which daily allowance was exhausted.
type LimitError struct {
	Kind  string // goals or messages
	Plan  string
	Limit int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily %s limit of %d reached on the %s plan", e.Kind, e.Limit, e.Plan)
}

func (e *LimitError) Is(target error) bool { return target == ErrLimitReached }

// UpgradePrompt is shown alongside limit errors.
func (e *LimitError) UpgradePrompt() string {
	if e.Plan == models.PlanFree {
		return "Upgrade to a monthly or annual plan to keep going today."
	}
	return "You've hit today's limit. It resets at midnight UTC."
}

var now = time.Now

func today() string { return now().UTC().Format("2006-01-02") }

func PlanFor(ctx context.Context, db *gorm.DB, userID uuid.UUID) (string, error) {
	var sub models.Subscription
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PlanFree, nil
	}
	if err != nil {
		return "", err
	}
	return sub.EffectivePlan(now()), nil
}

func IsAdmin(ctx context.Context, db *gorm.DB, userID uuid.UUID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.UserRole{}).
		Where("user_id = ? AND role = ?", userID, models.RoleAdmin).
		Count(&count).Error
	return count > 0, err
}

// TodayUsage returns today's counters, zero-valued when nothing was recorded.
func TodayUsage(ctx context.Context, db *gorm.DB, userID uuid.UUID) (models.UsageRecord, error) {
	rec := models.UsageRecord{UserID: userID, Date: today()}
	err := db.WithContext(ctx).Where("user_id = ? AND date = ?", userID, rec.Date).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, nil
	}
	return rec, err
}

const (
	kindGoals    = "goals"
	kindMessages = "messages"
)

var usageColumns = map[string]string{
	kindGoals:    "goals_created",
	kindMessages: "messages_sent",
}

// reserve takes one unit of today's allowance. The check and the increment
// are a single conditional UPDATE, so concurrent requests cannot both take
// the last unit.
func reserve(ctx context.Context, db *gorm.DB, userID uuid.UUID, kind string) error {
	admin, err := IsAdmin(ctx, db, userID)
	if err != nil {
		return err
	}
	plan, err := PlanFor(ctx, db, userID)
	if err != nil {
		return err
	}

	column := usageColumns[kind]
	date := today()
	db = db.WithContext(ctx)
	row := models.UsageRecord{UserID: userID, Date: date}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}

	q := db.Model(&models.UsageRecord{}).Where("user_id = ? AND date = ?", userID, date)
	limit := models.Limits[plan].GoalsPerDay
	if kind == kindMessages {
		limit = models.Limits[plan].MessagesPerDay
	}
	if !admin {
		q = q.Where(column+" < ?", limit)
	}
	res := q.UpdateColumn(column, gorm.Expr(column+" + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &LimitError{Kind: kind, Plan: plan, Limit: limit}
	}
	return nil
}

// release hands back a unit taken by reserve when the action it paid for
// did not happen.
func release(ctx context.Context, db *gorm.DB, userID uuid.UUID, kind string) error {
	column := usageColumns[kind]
	return db.WithContext(ctx).Model(&models.UsageRecord{}).
		Where("user_id = ? AND date = ? AND "+column+" > 0", userID, today()).
		UpdateColumn(column, gorm.Expr(column+" - ?", 1)).Error
}

func ReserveGoal(ctx context.Context, db *gorm.DB, userID uuid.UUID) error {
	return reserve(ctx, db, userID, kindGoals)
}

func ReserveMessage(ctx context.Context, db *gorm.DB, userID uuid.UUID) error {
	return reserve(ctx, db, userID, kindMessages)
}

func ReleaseGoal(ctx context.Context, db *gorm.DB, userID uuid.UUID) error {
	return release(ctx, db, userID, kindGoals)
}

func ReleaseMessage(ctx context.Context, db *gorm.DB, userID uuid.UUID) error {
	return release(ctx, db, userID, kindMessages)
}
