package handlers

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
)

// GetNotifications returns paginated notifications for the current user.
// ?unread=1 limits the page to unread ones.
func GetNotifications(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = 20
	}

	q := database.DB.WithContext(c.UserContext()).Model(&models.Notification{}).Where("user_id = ?", userID)
	if c.QueryBool("unread") {
		q = q.Where("read = ?", false)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return err
	}

	var notifications []models.Notification
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return err
	}

	var unread int64
	database.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&unread)

	return c.JSON(fiber.Map{
		"notifications": notifications,
		"total":         total,
		"unread":        unread,
		"page":          page,
		"limit":         limit,
	})
}

func MarkNotificationRead(c *fiber.Ctx) error {
	notifID, err := parseID(c, "id", "notification")
	if err != nil {
		return err
	}

	result := database.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notifID, middleware.GetUserID(c)).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "Notification not found")
	}

	return c.JSON(fiber.Map{"success": true})
}

func MarkAllRead(c *fiber.Ctx) error {
	err := database.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", middleware.GetUserID(c), false).
		Update("read", true).Error
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// RegisterDeviceToken saves the FCM token for push notifications
func RegisterDeviceToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Token is required")
	}

	err := database.DB.WithContext(c.UserContext()).Model(&models.User{}).
		Where("id = ?", middleware.GetUserID(c)).
		Update("fcm_token", req.Token).Error
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
