package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/arnold/goalcoach-api/internal/imagepoll"
	"github.com/arnold/goalcoach-api/internal/images"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/services"
)

// Shared collaborators, set once at startup by Init.
var (
	Hub       = realtime.NewHub()
	Poller    *imagepoll.Manager
	Loaders   = images.NewRegistry(images.HTTPProber{}, images.PrimaryTimeout)
	Pipeline  *services.Pipeline
	Responder services.ChatResponder

	UploadsDir      = "uploads"
	GoogleClientIDs []string
)

type Deps struct {
	Hub             *realtime.Hub
	Poller          *imagepoll.Manager
	Loaders         *images.Registry
	Pipeline        *services.Pipeline
	Responder       services.ChatResponder
	UploadsDir      string
	GoogleClientIDs []string
}

func Init(d Deps) {
	if d.Hub != nil {
		Hub = d.Hub
	}
	if d.Loaders != nil {
		Loaders = d.Loaders
	}
	if d.UploadsDir != "" {
		UploadsDir = d.UploadsDir
	}
	Poller = d.Poller
	Pipeline = d.Pipeline
	Responder = d.Responder
	GoogleClientIDs = d.GoogleClientIDs
}

// ErrorHandler renders every error returned by a handler as {"error": msg}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		log.Printf("handler error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func parseID(c *fiber.Ctx, param, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(param))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+what+" ID")
	}
	return id, nil
}

// limitReached answers plan-limit errors with 402 and an upgrade prompt.
func limitReached(c *fiber.Ctx, err error) error {
	var le *services.LimitError
	if !errors.As(err, &le) {
		log.Printf("usage check failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to check usage")
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":        le.Error(),
		"limitReached": true,
		"upgrade":      le.UpgradePrompt(),
	})
}

func publishGoalEvent(userID uuid.UUID, eventType string, id uuid.UUID, data interface{}) {
	if Hub == nil {
		return
	}
	Hub.Publish(realtime.UserTopic(userID), realtime.Event{Type: eventType, ID: id.String(), Data: data})
}
