package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/images"
	"github.com/arnold/goalcoach-api/internal/models"
)

type ImageGenerator interface {
	// GenerateGoalImage creates an image for the goal, stores its URL on the
	// row and clears image_loading. The returned URL is advisory.
	GenerateGoalImage(ctx context.Context, goalID uuid.UUID, title string) (string, error)
}

// OpenAIImageGenerator calls an OpenAI-compatible images endpoint. With a
// storage bucket, images are uploaded under goal-images/ and served from
// the bucket; otherwise the provider's URL is stored.
type OpenAIImageGenerator struct {
	Endpoint   string
	APIKey     string
	Model      string
	Client     *http.Client
	Bucket     *storage.BucketHandle
	BucketName string
	DB         *gorm.DB
}

// NewImageBucket opens the default bucket of the Firebase app, or returns
// nil when storage is not configured.
func NewImageBucket(ctx context.Context, app *firebase.App) (*storage.BucketHandle, error) {
	if app == nil {
		return nil, nil
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase storage: %w", err)
	}
	return client.DefaultBucket()
}

type imageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func imagePrompt(title string) string {
	return fmt.Sprintf("A bright, optimistic illustration representing the financial goal %q. No text, no logos.", title)
}

func (g *OpenAIImageGenerator) GenerateGoalImage(ctx context.Context, goalID uuid.UUID, title string) (string, error) {
	format := "url"
	if g.Bucket != nil {
		format = "b64_json"
	}
	payload, err := json.Marshal(imageRequest{
		Model:          g.Model,
		Prompt:         imagePrompt(title),
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image api: %w", err)
	}
	defer resp.Body.Close()

	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("image api: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("image api: %s", msg)
	}
	if len(out.Data) == 0 {
		return "", errors.New("image api: no image returned")
	}

	url := out.Data[0].URL
	if g.Bucket != nil && out.Data[0].B64JSON != "" {
		url, err = g.store(ctx, goalID, out.Data[0].B64JSON)
		if err != nil {
			return "", err
		}
	}
	if url == "" {
		return "", errors.New("image api: empty image url")
	}

	err = g.DB.WithContext(ctx).Model(&models.Goal{}).
		Where("id = ?", goalID).
		Updates(map[string]interface{}{"image_url": url, "image_loading": false}).Error
	if err != nil {
		return "", fmt.Errorf("save goal image: %w", err)
	}
	return url, nil
}

func (g *OpenAIImageGenerator) store(ctx context.Context, goalID uuid.UUID, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	name := images.GeneratedMarker() + goalID.String() + ".png"
	w := g.Bucket.Object(name).NewWriter(ctx)
	w.ContentType = "image/png"
	w.CacheControl = "public, max-age=31536000"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", fmt.Errorf("upload image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.BucketName, name), nil
}
