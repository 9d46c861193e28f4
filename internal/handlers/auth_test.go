package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnold/goalcoach-api/internal/models"
)

func TestRegisterLoginAndMe(t *testing.T) {
	e := newEnv(t, nil)

	var reg models.AuthResponse
	status := e.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "Casey@Example.com", "password": "hunter22", "name": "Casey",
	}, &reg)
	require.Equal(t, fiber.StatusCreated, status)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "casey@example.com", reg.User.Email)

	assert.Equal(t, fiber.StatusConflict, e.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "casey@example.com", "password": "hunter22",
	}, nil))

	assert.Equal(t, fiber.StatusUnauthorized, e.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "casey@example.com", "password": "wrong-password",
	}, nil))

	var login models.AuthResponse
	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodPost, "/api/auth/login", "", fiber.Map{
		"email": "casey@example.com", "password": "hunter22",
	}, &login))

	var me map[string]interface{}
	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodGet, "/api/me", login.Token, nil, &me))
	assert.Equal(t, "Casey", me["name"])
	assert.Equal(t, models.PlanFree, me["plan"])
	assert.Equal(t, false, me["isAdmin"])
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, fiber.StatusBadRequest, e.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "not-an-email", "password": "hunter22",
	}, nil))
	assert.Equal(t, fiber.StatusBadRequest, e.do(t, http.MethodPost, "/api/auth/register", "", fiber.Map{
		"email": "a@example.com", "password": "123",
	}, nil))
}

func TestGoogleLoginChecksAudience(t *testing.T) {
	e := newEnv(t, nil)

	prev := verifyGoogleIDToken
	t.Cleanup(func() { verifyGoogleIDToken = prev; GoogleClientIDs = nil })
	verifyGoogleIDToken = func(ctx context.Context, idToken string) (*googleTokenInfo, error) {
		if idToken == "bad" {
			return nil, errors.New("expired")
		}
		return &googleTokenInfo{Aud: "ios-client", Email: "Jo@Example.com", Name: "Jo"}, nil
	}

	GoogleClientIDs = []string{"web-client"}
	assert.Equal(t, fiber.StatusUnauthorized, e.do(t, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "good"}, nil))

	GoogleClientIDs = []string{"web-client", "ios-client"}
	assert.Equal(t, fiber.StatusUnauthorized, e.do(t, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "bad"}, nil))

	var resp models.AuthResponse
	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "good"}, &resp))
	assert.Equal(t, "jo@example.com", resp.User.Email)
	assert.Equal(t, "google", resp.User.AuthProvider)

	// Signing in again reuses the account.
	var again models.AuthResponse
	e.do(t, http.MethodPost, "/api/auth/google", "", fiber.Map{"idToken": "good"}, &again)
	assert.Equal(t, resp.User.ID, again.User.ID)
}

func TestNotificationsReadFlow(t *testing.T) {
	e := newEnv(t, nil)
	user, token := e.user(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.db.Create(&models.Notification{UserID: user.ID, Type: "goal_tasks_ready", Title: "Ready"}).Error)
	}

	var page struct {
		Notifications []models.Notification `json:"notifications"`
		Total         int64                 `json:"total"`
		Unread        int64                 `json:"unread"`
	}
	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodGet, "/api/notifications?limit=2", token, nil, &page))
	assert.Len(t, page.Notifications, 2)
	assert.EqualValues(t, 3, page.Total)
	assert.EqualValues(t, 3, page.Unread)

	id := page.Notifications[0].ID.String()
	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodPut, "/api/notifications/"+id+"/read", token, nil, nil))
	e.do(t, http.MethodGet, "/api/notifications?unread=1", token, nil, &page)
	assert.EqualValues(t, 2, page.Total)

	require.Equal(t, fiber.StatusOK, e.do(t, http.MethodPost, "/api/notifications/read-all", token, nil, nil))
	e.do(t, http.MethodGet, "/api/notifications", token, nil, &page)
	assert.Zero(t, page.Unread)

	_, otherToken := e.user(t)
	assert.Equal(t, fiber.StatusNotFound, e.do(t, http.MethodPut, "/api/notifications/"+id+"/read", otherToken, nil, nil))
}
