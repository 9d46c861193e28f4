package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/models"
)

// GetTaskQuiz returns {"quiz": null} when the task has no quiz.
func GetTaskQuiz(c *fiber.Ctx) error {
	task, err := ownedTask(c)
	if err != nil {
		return err
	}

	var quiz models.Quiz
	err = database.DB.WithContext(c.UserContext()).Where("task_id = ?", task.ID).First(&quiz).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(fiber.Map{"quiz": nil})
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load quiz")
	}
	return c.JSON(fiber.Map{"quiz": quiz})
}
