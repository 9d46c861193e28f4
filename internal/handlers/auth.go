package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/services"
	"github.com/arnold/goalcoach-api/internal/validate"
)

func authResponse(c *fiber.Ctx, status int, user models.User) error {
	token, err := middleware.GenerateToken(user.ID, user.Email)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate token")
	}
	return c.Status(status).JSON(models.AuthResponse{Token: token, User: user})
}

func Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var existing models.User
	if err := database.DB.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "Email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to hash password")
	}

	user := models.User{
		Email:    req.Email,
		Password: string(hashedPassword),
		Name:     req.Name,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create user")
	}

	return authResponse(c, fiber.StatusCreated, user)
}

func Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var user models.User
	if err := database.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
	}

	return authResponse(c, fiber.StatusOK, user)
}

// GetMe returns the user with their effective plan.
func GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, "User not found")
	}

	plan, err := services.PlanFor(c.UserContext(), database.DB, userID)
	if err != nil {
		return err
	}
	admin, err := services.IsAdmin(c.UserContext(), database.DB, userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"id":           user.ID,
		"email":        user.Email,
		"authProvider": user.AuthProvider,
		"name":         user.Name,
		"plan":         plan,
		"isAdmin":      admin,
		"createdAt":    user.CreatedAt,
		"updatedAt":    user.UpdatedAt,
	})
}

// googleTokenInfo represents the response from Google's tokeninfo endpoint
type googleTokenInfo struct {
	Aud           string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Sub           string `json:"sub"`
}

func GoogleLogin(c *fiber.Ctx) error {
	var req models.GoogleAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.IDToken == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ID token is required")
	}

	tokenInfo, err := verifyGoogleIDToken(c.UserContext(), req.IDToken)
	if err != nil {
		log.Printf("Google token verification failed: %v", err)
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid Google token")
	}

	// The token's aud is the client ID of the platform that signed in.
	if len(GoogleClientIDs) > 0 && !allowedAudience(tokenInfo.Aud) {
		return fiber.NewError(fiber.StatusUnauthorized, "Token not intended for this app")
	}
	if tokenInfo.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Email not available from Google account")
	}

	email := strings.ToLower(tokenInfo.Email)
	var user models.User
	err = database.DB.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Email:        email,
			Name:         tokenInfo.Name,
			AuthProvider: "google",
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to create user")
		}
	} else if err != nil {
		return err
	}

	return authResponse(c, fiber.StatusOK, user)
}

func allowedAudience(aud string) bool {
	for _, id := range GoogleClientIDs {
		if id == aud {
			return true
		}
	}
	return false
}

var googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// verifyGoogleIDToken verifies a Google ID token using Google's tokeninfo endpoint
var verifyGoogleIDToken = func(ctx context.Context, idToken string) (*googleTokenInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleTokenInfoURL+"?id_token="+url.QueryEscape(idToken), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token verification failed with status %d", resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode token info: %w", err)
	}
	return &info, nil
}
