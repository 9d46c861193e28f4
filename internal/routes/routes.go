package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/arnold/goalcoach-api/internal/handlers"
	"github.com/arnold/goalcoach-api/internal/middleware"
)

func Setup(app *fiber.App) {
	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", handlers.Register)
	auth.Post("/login", handlers.Login)
	auth.Post("/google", handlers.GoogleLogin)

	protected := api.Group("/", middleware.Protected())

	protected.Get("/me", handlers.GetMe)
	protected.Get("/usage", handlers.GetUsage)

	goals := protected.Group("/goals")
	goals.Get("/", handlers.GetGoals)
	goals.Post("/", handlers.CreateGoal)
	goals.Get("/:id", handlers.GetGoal)
	goals.Patch("/:id", handlers.UpdateGoal)
	goals.Delete("/:id", handlers.DeleteGoal)

	goals.Get("/:id/image", handlers.GetGoalImage)
	goals.Post("/:id/image", handlers.UploadGoalImage)
	goals.Post("/:id/image/retry", handlers.RetryGoalImage)

	goals.Get("/:id/tasks", handlers.GetTasks)
	goals.Post("/:id/tasks", handlers.CreateTask)

	tasks := protected.Group("/tasks")
	tasks.Post("/:id/toggle", handlers.ToggleTask)
	tasks.Get("/:id/quiz", handlers.GetTaskQuiz)

	threads := protected.Group("/threads")
	threads.Get("/", handlers.GetThreads)
	threads.Post("/", handlers.CreateThread)
	threads.Patch("/:id", handlers.RenameThread)
	threads.Delete("/:id", handlers.DeleteThread)
	threads.Get("/:id/messages", handlers.GetMessages)
	threads.Post("/:id/messages", handlers.SendMessage)

	// Notifications
	notifications := protected.Group("/notifications")
	notifications.Get("/", handlers.GetNotifications)
	notifications.Put("/:id/read", handlers.MarkNotificationRead)
	notifications.Post("/read-all", handlers.MarkAllRead)

	// Device token for push notifications
	protected.Post("/device-token", handlers.RegisterDeviceToken)

	// WebSocket for realtime chat and goal updates
	app.Use("/ws", handlers.WebSocketUpgrade())
	app.Get("/ws/threads/:id", websocket.New(handlers.ThreadSocket))
	app.Get("/ws/goals", websocket.New(handlers.GoalSocket))
}
