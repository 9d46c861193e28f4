package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testUser(t *testing.T, db *gorm.DB) models.User {
	t.Helper()
	u := models.User{Email: uuid.NewString() + "@example.com", Name: "Sam"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestFreePlanGoalLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)

	for i := 0; i < models.Limits[models.PlanFree].GoalsPerDay; i++ {
		require.NoError(t, ReserveGoal(ctx, db, user.ID))
	}

	err := ReserveGoal(ctx, db, user.ID)
	require.ErrorIs(t, err, ErrLimitReached)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "goals", limitErr.Kind)
	assert.Equal(t, models.PlanFree, limitErr.Plan)
	assert.Contains(t, limitErr.UpgradePrompt(), "Upgrade")

	usage, err := TodayUsage(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Limits[models.PlanFree].GoalsPerDay, usage.GoalsCreated)

	// Messages are counted separately.
	assert.NoError(t, ReserveMessage(ctx, db, user.ID))
}

func TestConcurrentReservationsStopAtLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ReserveGoal(ctx, db, user.ID)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrLimitReached)
		}()
	}
	wg.Wait()

	limit := models.Limits[models.PlanFree].GoalsPerDay
	assert.Equal(t, limit, granted)
	usage, err := TodayUsage(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, usage.GoalsCreated)
}

func TestReleaseReturnsReservation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)

	for i := 0; i < models.Limits[models.PlanFree].GoalsPerDay; i++ {
		require.NoError(t, ReserveGoal(ctx, db, user.ID))
	}
	require.ErrorIs(t, ReserveGoal(ctx, db, user.ID), ErrLimitReached)

	require.NoError(t, ReleaseGoal(ctx, db, user.ID))
	assert.NoError(t, ReserveGoal(ctx, db, user.ID))

	// Releasing never drives a counter below zero.
	require.NoError(t, ReleaseMessage(ctx, db, user.ID))
	usage, err := TodayUsage(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Zero(t, usage.MessagesSent)
}

func TestUsageResetsDaily(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)

	fixClock(t, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		require.NoError(t, ReserveGoal(ctx, db, user.ID))
	}
	require.ErrorIs(t, ReserveGoal(ctx, db, user.ID), ErrLimitReached)

	fixClock(t, time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	assert.NoError(t, ReserveGoal(ctx, db, user.ID))
}

func TestPaidPlanAndExpiry(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)
	at := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	fixClock(t, at)

	end := at.Add(24 * time.Hour)
	sub := models.Subscription{UserID: user.ID, Plan: models.PlanMonthly, Status: "active", CurrentPeriodEnd: &end}
	require.NoError(t, db.Create(&sub).Error)

	plan, err := PlanFor(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanMonthly, plan)

	for i := 0; i < 6; i++ {
		require.NoError(t, ReserveGoal(ctx, db, user.ID))
	}

	fixClock(t, end.Add(time.Minute))
	plan, err = PlanFor(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, plan)
}

func TestAdminBypassesLimits(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	user := testUser(t, db)
	require.NoError(t, db.Create(&models.UserRole{UserID: user.ID, Role: models.RoleAdmin}).Error)

	for i := 0; i < 30; i++ {
		require.NoError(t, ReserveMessage(ctx, db, user.ID))
	}

	usage, err := TodayUsage(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, usage.MessagesSent)
	assert.Equal(t, 0, usage.GoalsCreated)
}
