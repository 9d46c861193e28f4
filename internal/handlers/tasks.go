package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/validate"
)

// ownedTask loads the task named by :id when its goal belongs to the caller.
func ownedTask(c *fiber.Ctx) (*models.Task, error) {
	taskID, err := parseID(c, "id", "task")
	if err != nil {
		return nil, err
	}

	var task models.Task
	err = database.DB.WithContext(c.UserContext()).
		Joins("JOIN goals ON goals.id = tasks.goal_id").
		Where("tasks.id = ? AND goals.user_id = ?", taskID, middleware.GetUserID(c)).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Task not found")
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// recalculateGoalCompletion marks the goal completed once every task is
// done and clears the flag otherwise. Returns the new progress.
func recalculateGoalCompletion(db *gorm.DB, goalID uuid.UUID) (int, error) {
	var tasks []models.Task
	if err := db.Where("goal_id = ?", goalID).Find(&tasks).Error; err != nil {
		return 0, err
	}

	progress := models.Progress(tasks)
	completed := len(tasks) > 0
	for _, t := range tasks {
		if !t.Completed {
			completed = false
			break
		}
	}

	err := db.Model(&models.Goal{}).Where("id = ?", goalID).Update("completed", completed).Error
	return progress, err
}

func GetTasks(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	var tasks []models.Task
	if err := orderedTasks(database.DB.WithContext(c.UserContext())).Where("goal_id = ?", goal.ID).Find(&tasks).Error; err != nil {
		return err
	}
	return c.JSON(tasks)
}

// CreateTask appends a task after the goal's existing ones.
func CreateTask(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	var req models.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	task := models.Task{
		GoalID:         goal.ID,
		Title:          req.Title,
		Description:    req.Description,
		ArticleContent: req.ArticleContent,
	}
	err = database.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Task{}).Where("goal_id = ?", goal.ID).Count(&count).Error; err != nil {
			return err
		}
		task.OrderNumber = int(count)
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		// A new open task reopens a completed goal.
		_, err := recalculateGoalCompletion(tx, goal.ID)
		return err
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create task")
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func ToggleTask(c *fiber.Ctx) error {
	task, err := ownedTask(c)
	if err != nil {
		return err
	}

	var progress int
	err = database.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		task.Completed = !task.Completed
		if err := tx.Model(task).Update("completed", task.Completed).Error; err != nil {
			return err
		}
		progress, err = recalculateGoalCompletion(tx, task.GoalID)
		return err
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to toggle task")
	}

	return c.JSON(fiber.Map{"task": task, "progress": progress})
}
