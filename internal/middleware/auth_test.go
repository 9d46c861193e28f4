package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", Protected(), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c).String())
	})
	return app
}

func TestProtectedAcceptsValidToken(t *testing.T) {
	SetSecret("test-secret")
	userID := uuid.New()
	token, err := GenerateToken(userID, "sam@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := protectedApp().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "sam@example.com", claims.Email)
}

func TestProtectedRejects(t *testing.T) {
	SetSecret("test-secret")
	cases := map[string]string{
		"missing":   "",
		"no bearer": "Token abc",
		"garbage":   "Bearer not-a-jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := protectedApp().Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	SetSecret("first")
	token, err := GenerateToken(uuid.New(), "a@example.com")
	require.NoError(t, err)

	SetSecret("second")
	_, err = ParseToken(token)
	assert.Error(t, err)
}
