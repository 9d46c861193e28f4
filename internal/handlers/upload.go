package handlers

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const maxUploadSize = 5 * 1024 * 1024

var allowedImageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// UploadGoalImage replaces the goal's image with an uploaded file served
// from /uploads.
func UploadGoalImage(c *fiber.Ctx) error {
	goal, err := ownedGoal(c, false)
	if err != nil {
		return err
	}

	file, err := c.FormFile("image")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No image file provided")
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedImageExts[ext] {
		return fiber.NewError(fiber.StatusBadRequest, "Only jpg, png, and webp images are allowed")
	}
	if file.Size > maxUploadSize {
		return fiber.NewError(fiber.StatusBadRequest, "Image must be under 5MB")
	}

	if err := os.MkdirAll(UploadsDir, 0755); err != nil {
		log.Printf("upload: create %s: %v", UploadsDir, err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to create uploads directory")
	}

	filename := uuid.New().String() + ext
	if err := c.SaveFile(file, filepath.Join(UploadsDir, filename)); err != nil {
		log.Printf("upload: save %s: %v", filename, err)
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to save image")
	}

	imageURL := fmt.Sprintf("/uploads/%s", filename)
	if err := setGoalImage(c.UserContext(), goal, imageURL); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to update goal image")
	}

	return c.JSON(fiber.Map{
		"url":  imageURL,
		"goal": goal,
	})
}
