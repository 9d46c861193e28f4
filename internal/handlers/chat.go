package handlers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/services"
	"github.com/arnold/goalcoach-api/internal/validate"
)

const (
	responderTimeout  = 60 * time.Second
	maxTitleLength    = 40
	replySaveAttempts = 3
	replySaveBackoff  = 50 * time.Millisecond
)

func ownedThread(c *fiber.Ctx) (*models.ChatThread, error) {
	threadID, err := parseID(c, "id", "thread")
	if err != nil {
		return nil, err
	}

	var thread models.ChatThread
	err = database.DB.WithContext(c.UserContext()).
		Where("id = ? AND user_id = ?", threadID, middleware.GetUserID(c)).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusNotFound, "Thread not found")
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func threadMessages(ctx context.Context, threadID uuid.UUID) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := database.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// titleFromMessage shortens a first message into a thread title.
func titleFromMessage(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= maxTitleLength {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:maxTitleLength-3])) + "..."
}

func GetThreads(c *fiber.Ctx) error {
	var threads []models.ChatThread
	err := database.DB.WithContext(c.UserContext()).
		Where("user_id = ?", middleware.GetUserID(c)).
		Order("updated_at DESC").
		Find(&threads).Error
	if err != nil {
		return err
	}
	return c.JSON(threads)
}

func CreateThread(c *fiber.Ctx) error {
	var req models.CreateThreadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	thread := models.ChatThread{
		UserID: middleware.GetUserID(c),
		Title:  models.DefaultThreadTitle(time.Now()),
	}
	if req.Title != nil {
		if title := strings.TrimSpace(*req.Title); title != "" {
			thread.Title = title
			thread.Renamed = true
		}
	}

	if err := database.DB.WithContext(c.UserContext()).Create(&thread).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create thread")
	}
	return c.Status(fiber.StatusCreated).JSON(thread)
}

// RenameThread rejects blank titles without touching the row.
func RenameThread(c *fiber.Ctx) error {
	thread, err := ownedThread(c)
	if err != nil {
		return err
	}

	var req models.RenameThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Title cannot be empty")
	}
	req.Title = title
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	err = database.DB.WithContext(c.UserContext()).Model(thread).
		Updates(map[string]interface{}{"title": title, "renamed": true}).Error
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to rename thread")
	}
	thread.Title = title
	thread.Renamed = true
	return c.JSON(thread)
}

// DeleteThread removes the thread's messages before the thread itself.
func DeleteThread(c *fiber.Ctx) error {
	thread, err := ownedThread(c)
	if err != nil {
		return err
	}

	err = database.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", thread.ID).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ChatThread{}, "id = ?", thread.ID).Error
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to delete thread")
	}
	return c.JSON(fiber.Map{"success": true})
}

func GetMessages(c *fiber.Ctx) error {
	thread, err := ownedThread(c)
	if err != nil {
		return err
	}

	messages, err := threadMessages(c.UserContext(), thread.ID)
	if err != nil {
		return err
	}
	return c.JSON(messages)
}

func publishMessage(msg models.ChatMessage) {
	if Hub == nil {
		return
	}
	Hub.Publish(realtime.ThreadTopic(msg.ThreadID), realtime.Event{
		Type: realtime.EventMessageInserted,
		ID:   msg.ID.String(),
		Data: msg,
	})
}

// SendMessage persists the user's message, asks the responder and persists
// its answer. Exactly two messages are stored per call; a failed responder
// is answered with services.Apology.
func SendMessage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	ctx := c.UserContext()

	thread, err := ownedThread(c)
	if err != nil {
		return err
	}

	var req models.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := services.ReserveMessage(ctx, database.DB, userID); err != nil {
		return limitReached(c, err)
	}

	history, err := threadMessages(ctx, thread.ID)
	if err != nil {
		releaseMessage(ctx, userID)
		return err
	}

	userMsg := models.ChatMessage{ThreadID: thread.ID, Sender: userID.String(), Content: req.Content}
	if err := database.DB.WithContext(ctx).Create(&userMsg).Error; err != nil {
		releaseMessage(ctx, userID)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to save message")
	}

	thread.UpdatedAt = time.Now()
	if len(history) == 0 && !thread.Renamed {
		thread.Title = titleFromMessage(req.Content)
	}
	err = database.DB.WithContext(ctx).Model(&models.ChatThread{}).Where("id = ?", thread.ID).
		Updates(map[string]interface{}{"title": thread.Title, "updated_at": thread.UpdatedAt}).Error
	if err != nil {
		log.Printf("chat: update thread %s: %v", thread.ID, err)
	}

	reply := generateReply(ctx, services.ChatRequest{
		Message:     req.Content,
		ThreadID:    thread.ID.String(),
		ConciseMode: req.ConciseMode,
		History:     history,
	})

	aiMsg := models.ChatMessage{ThreadID: thread.ID, Sender: models.SenderAI, Content: reply}
	if err := saveReply(ctx, &aiMsg); err != nil {
		// Drop the user turn rather than leave it unanswered.
		log.Printf("chat: save reply for thread %s: %v", thread.ID, err)
		if err := database.DB.WithContext(ctx).Delete(&models.ChatMessage{}, "id = ?", userMsg.ID).Error; err != nil {
			log.Printf("chat: thread %s keeps unanswered message %s: %v", thread.ID, userMsg.ID, err)
		} else {
			releaseMessage(ctx, userID)
		}
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to save reply")
	}
	// Both turns go out only once the reply is stored, so subscribers never
	// see a user turn that gets dropped.
	publishMessage(userMsg)
	publishMessage(aiMsg)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"thread":      thread,
		"userMessage": userMsg,
		"aiMessage":   aiMsg,
	})
}

func releaseMessage(ctx context.Context, userID uuid.UUID) {
	if err := services.ReleaseMessage(ctx, database.DB, userID); err != nil {
		log.Printf("usage: release message for user %s: %v", userID, err)
	}
}

// saveReply inserts the AI turn, retrying briefly on failure.
func saveReply(ctx context.Context, msg *models.ChatMessage) error {
	var err error
	for attempt := 0; attempt < replySaveAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * replySaveBackoff):
			}
		}
		if err = database.DB.WithContext(ctx).Create(msg).Error; err == nil {
			return nil
		}
	}
	return err
}

func generateReply(parent context.Context, req services.ChatRequest) string {
	if Responder == nil {
		log.Printf("chat: no responder configured for thread %s", req.ThreadID)
		return services.Apology
	}

	ctx, cancel := context.WithTimeout(parent, responderTimeout)
	defer cancel()

	reply, err := Responder.Respond(ctx, req)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Printf("chat: responder failed for thread %s: %v", req.ThreadID, err)
		return services.Apology
	}
	return reply
}
