package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/images"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/services"
	"github.com/arnold/goalcoach-api/internal/validate"
)

const imageWaitTimeout = images.PrimaryTimeout + time.Second

func orderedTasks(db *gorm.DB) *gorm.DB {
	return db.Order("order_number ASC")
}

// ownedGoal loads the goal named by :id when it belongs to the caller.
func ownedGoal(c *fiber.Ctx, withTasks bool) (*models.Goal, error) {
	goalID, err := parseID(c, "id", "goal")
	if err != nil {
		return nil, err
	}

	q := database.DB.WithContext(c.UserContext())
	if withTasks {
		q = q.Preload("Tasks", orderedTasks)
	}

	var goal models.Goal
	err = q.Where("id = ? AND user_id = ?", goalID, middleware.GetUserID(c)).First(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Goal not found")
	}
	if err != nil {
		return nil, err
	}
	goal.Progress = models.Progress(goal.Tasks)
	return &goal, nil
}

func GetGoals(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var goals []models.Goal
	err := database.DB.WithContext(c.UserContext()).
		Preload("Tasks", orderedTasks).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&goals).Error
	if err != nil {
		return err
	}

	for i := range goals {
		goals[i].Progress = models.Progress(goals[i].Tasks)
		if goals[i].ImageLoading && Poller != nil {
			Poller.Track(goals[i].ID)
		}
	}
	return c.JSON(goals)
}

func GetGoal(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, true)
	if err != nil {
		return err
	}
	return c.JSON(goal)
}

// CreateGoal stores the goal with its fallback image, then hands it to the
// content pipeline and the image poller.
func CreateGoal(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	ctx := c.UserContext()

	var req models.CreateGoalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := services.ReserveGoal(ctx, database.DB, userID); err != nil {
		return limitReached(c, err)
	}

	fallback := images.ResolveFallbackImage(req.Title)
	goal := models.Goal{
		UserID:       userID,
		Title:        req.Title,
		Description:  req.Description,
		TargetDate:   req.TargetDate,
		ImageURL:     &fallback,
		ImageLoading: true,
	}
	if err := database.DB.WithContext(ctx).Create(&goal).Error; err != nil {
		if err := services.ReleaseGoal(ctx, database.DB, userID); err != nil {
			log.Printf("usage: release goal for user %s: %v", userID, err)
		}
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create goal")
	}

	if Pipeline != nil {
		Pipeline.Start(goal)
	}
	if Poller != nil {
		Poller.Watch(goal.ID)
	}

	return c.Status(fiber.StatusCreated).JSON(goal)
}

func UpdateGoal(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	var req models.UpdateGoalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	// Only the patched columns are written; the pipeline and the image
	// generator may be updating the same row.
	db := database.DB.WithContext(c.UserContext())
	if changes := req.Changes(); len(changes) > 0 {
		if err := db.Model(&models.Goal{}).Where("id = ?", goal.ID).Updates(changes).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to update goal")
		}
	}
	if err := db.First(goal, "id = ?", goal.ID).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load goal")
	}

	// A user-chosen image resolves the goal for the poller.
	if req.ImageURL != nil && Poller != nil {
		Poller.Loaded().Add(goal.ID)
	}

	publishGoalEvent(goal.UserID, realtime.EventGoalUpdated, goal.ID, goal)
	return c.JSON(goal)
}

// DeleteGoal removes quizzes, then tasks, then the goal in one transaction.
func DeleteGoal(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	err = database.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		var taskIDs []uuid.UUID
		if err := tx.Model(&models.Task{}).Where("goal_id = ?", goal.ID).Pluck("id", &taskIDs).Error; err != nil {
			return err
		}
		if len(taskIDs) > 0 {
			if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.Quiz{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("goal_id = ?", goal.ID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Goal{}, "id = ?", goal.ID).Error
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete goal")
	}

	Loaders.Forget(goal.ID.String())
	publishGoalEvent(goal.UserID, realtime.EventGoalDeleted, goal.ID, nil)
	return c.JSON(fiber.Map{"success": true})
}

// GetGoalImage reports how the goal's image resolves. ?refresh=1 forces a
// re-check, ?wait=1 blocks until the check settles.
func GetGoalImage(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	loader := Loaders.Loader(goal.ID.String())
	view := loader.Resolve(images.Input{
		URL:              goal.ImageURL,
		Title:            goal.Title,
		InitiallyLoading: goal.ImageLoading,
		ForceRefresh:     c.QueryBool("refresh"),
	})
	if c.QueryBool("wait") {
		view = waitForImage(c.UserContext(), loader)
	}

	return c.JSON(fiber.Map{"goalId": goal.ID, "image": view})
}

func RetryGoalImage(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	loader := Loaders.Loader(goal.ID.String())
	view := loader.Retry()
	if c.QueryBool("wait") {
		view = waitForImage(c.UserContext(), loader)
	}
	return c.JSON(fiber.Map{"goalId": goal.ID, "image": view})
}

func waitForImage(parent context.Context, loader *images.Loader) images.View {
	ctx, cancel := context.WithTimeout(parent, imageWaitTimeout)
	defer cancel()
	view, _ := loader.Wait(ctx)
	return view
}

// setGoalImage stores a user-supplied image and marks the goal resolved.
func setGoalImage(ctx context.Context, goal *models.Goal, url string) error {
	err := database.DB.WithContext(ctx).Model(&models.Goal{}).
		Where("id = ?", goal.ID).
		Updates(map[string]interface{}{"image_url": url, "image_loading": false}).Error
	if err != nil {
		return err
	}
	goal.ImageURL = &url
	goal.ImageLoading = false
	if Poller != nil {
		Poller.Loaded().Add(goal.ID)
	}
	publishGoalEvent(goal.UserID, realtime.EventGoalUpdated, goal.ID, goal)
	return nil
}
