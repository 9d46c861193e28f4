package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/services"
)

// GetUsage reports the caller's plan, its daily limits and today's counters.
func GetUsage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	ctx := c.UserContext()

	plan, err := services.PlanFor(ctx, database.DB, userID)
	if err != nil {
		return err
	}
	usage, err := services.TodayUsage(ctx, database.DB, userID)
	if err != nil {
		return err
	}
	admin, err := services.IsAdmin(ctx, database.DB, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"plan":         plan,
		"limits":       models.Limits[plan],
		"date":         usage.Date,
		"goalsCreated": usage.GoalsCreated,
		"messagesSent": usage.MessagesSent,
		"unlimited":    admin,
	})
}
