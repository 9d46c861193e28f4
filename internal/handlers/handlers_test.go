package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/images"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/services"
)

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (p *countingProber) Probe(ctx context.Context, url string) error {
	p.calls.Add(1)
	return p.err
}

type fakeResponder struct {
	reply string
	err   error
	reqs  []services.ChatRequest
}

func (f *fakeResponder) Respond(ctx context.Context, req services.ChatRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type env struct {
	app    *fiber.App
	db     *gorm.DB
	hub    *realtime.Hub
	prober *countingProber
}

// newEnv wires the handlers against an in-memory database and mounts the
// routes under test.
func newEnv(t *testing.T, responder services.ChatResponder) *env {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	database.DB = db
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	middleware.SetSecret("handlers-test-secret")
	hub := realtime.NewHub()
	prober := &countingProber{}
	Init(Deps{
		Hub:        hub,
		Loaders:    images.NewRegistry(prober, images.PrimaryTimeout),
		Responder:  responder,
		UploadsDir: t.TempDir(),
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	api := app.Group("/api")
	api.Post("/auth/register", Register)
	api.Post("/auth/login", Login)
	api.Post("/auth/google", GoogleLogin)
	p := api.Group("/", middleware.Protected())
	p.Get("/me", GetMe)
	p.Get("/usage", GetUsage)
	p.Get("/goals", GetGoals)
	p.Post("/goals", CreateGoal)
	p.Get("/goals/:id", GetGoal)
	p.Patch("/goals/:id", UpdateGoal)
	p.Delete("/goals/:id", DeleteGoal)
	p.Get("/goals/:id/image", GetGoalImage)
	p.Post("/goals/:id/image", UploadGoalImage)
	p.Post("/goals/:id/image/retry", RetryGoalImage)
	p.Get("/goals/:id/tasks", GetTasks)
	p.Post("/goals/:id/tasks", CreateTask)
	p.Post("/tasks/:id/toggle", ToggleTask)
	p.Get("/tasks/:id/quiz", GetTaskQuiz)
	p.Get("/threads", GetThreads)
	p.Post("/threads", CreateThread)
	p.Patch("/threads/:id", RenameThread)
	p.Delete("/threads/:id", DeleteThread)
	p.Get("/threads/:id/messages", GetMessages)
	p.Post("/threads/:id/messages", SendMessage)
	p.Get("/notifications", GetNotifications)
	p.Put("/notifications/:id/read", MarkNotificationRead)
	p.Post("/notifications/read-all", MarkAllRead)

	return &env{app: app, db: db, hub: hub, prober: prober}
}

func (e *env) user(t *testing.T) (models.User, string) {
	t.Helper()
	u := models.User{Email: uuid.NewString() + "@example.com", Name: "Robin"}
	require.NoError(t, e.db.Create(&u).Error)
	token, err := middleware.GenerateToken(u.ID, u.Email)
	require.NoError(t, err)
	return u, token
}

// do sends a JSON request and decodes the response body into out when set.
func (e *env) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *env) createGoal(t *testing.T, token, title string) models.Goal {
	t.Helper()
	var goal models.Goal
	status := e.do(t, http.MethodPost, "/api/goals", token, fiber.Map{"title": title}, &goal)
	require.Equal(t, fiber.StatusCreated, status)
	return goal
}
