package handlers

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
)

// Sent once per thread socket before live inserts.
const eventHistory = "history"

// WebSocketUpgrade is the middleware that checks the upgrade request and validates JWT
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// Browsers cannot set headers on upgrade, so ?token=<jwt> is accepted too.
		tokenString := c.Query("token")
		if tokenString == "" {
			tokenString = middleware.BearerToken(c)
		}
		if tokenString == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing authentication token")
		}

		claims, err := middleware.ParseToken(tokenString)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		return c.Next()
	}
}

// readUntilClosed drains client frames and cancels once the peer goes away.
func readUntilClosed(c *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func socketError(c *websocket.Conn, msg string) {
	if err := c.WriteJSON(fiber.Map{"type": "error", "error": msg}); err != nil {
		log.Printf("WS write error: %v", err)
	}
}

// ThreadSocket streams inserts on one chat thread. The subscription is taken
// before history is loaded so nothing inserted in between is lost, and the
// timeline drops anything already in the history.
func ThreadSocket(c *websocket.Conn) {
	threadID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		socketError(c, "Invalid thread ID")
		return
	}
	userID, ok := c.Locals("userId").(uuid.UUID)
	if !ok {
		return
	}

	var thread models.ChatThread
	if err := database.DB.Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error; err != nil {
		socketError(c, "Thread not found")
		return
	}

	topic := realtime.ThreadTopic(threadID)
	sub := Hub.Subscribe(topic)
	defer sub.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history, err := threadMessages(ctx, threadID)
	if err != nil {
		socketError(c, "Failed to load messages")
		return
	}
	timeline := realtime.NewTimeline(history)

	if err := c.WriteJSON(realtime.Event{Type: eventHistory, Topic: topic, Data: timeline.Messages()}); err != nil {
		return
	}
	log.Printf("WS: user %s joined thread %s", userID, threadID)

	go readUntilClosed(c, cancel)

	err = timeline.Consume(ctx, sub, func(msg models.ChatMessage) error {
		return c.WriteJSON(realtime.Event{
			Type:  realtime.EventMessageInserted,
			Topic: topic,
			ID:    msg.ID.String(),
			Data:  msg,
		})
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("WS write error on thread %s: %v", threadID, err)
	}
	log.Printf("WS: user %s left thread %s", userID, threadID)
}

// GoalSocket streams goal events (image ready, tasks populated, summary
// attached, updates and deletes) for the authenticated user.
func GoalSocket(c *websocket.Conn) {
	userID, ok := c.Locals("userId").(uuid.UUID)
	if !ok {
		return
	}

	sub := Hub.Subscribe(realtime.UserTopic(userID))
	defer sub.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readUntilClosed(c, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				log.Printf("WS write error for user %s: %v", userID, err)
				return
			}
		}
	}
}
