package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL       string
	JWTSecret         string
	Port              string
	GoogleClientIDs   string
	FCMServiceAccount string
	StorageBucket     string
	UploadsDir        string

	// LLM backend used for task generation, summaries and chat.
	LLMProvider string // openai or hunyuan
	LLMToken    string
	LLMModel    string
	LLMBaseURL  string

	TencentSecretID  string
	TencentSecretKey string

	ImageAPIURL string
	ImageAPIKey string
	// Substring that marks a URL as a generated goal image.
	GeneratedImageMarker string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables")
	}

	return &Config{
		DatabaseURL:          getEnv("DATABASE_URL", "goalcoach.db"),
		JWTSecret:            getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		Port:                 getEnv("PORT", "8080"),
		GoogleClientIDs:      getEnv("GOOGLE_CLIENT_IDS", ""),
		FCMServiceAccount:    getEnv("FCM_SERVICE_ACCOUNT", ""),
		StorageBucket:        getEnv("FIREBASE_STORAGE_BUCKET", ""),
		UploadsDir:           getEnv("UPLOADS_DIR", "uploads"),
		LLMProvider:          strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMToken:             getEnv("LLM_TOKEN", ""),
		LLMModel:             getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
		TencentSecretID:      getEnv("TENCENTCLOUD_SECRETID", ""),
		TencentSecretKey:     getEnv("TENCENTCLOUD_SECRETKEY", ""),
		ImageAPIURL:          getEnv("IMAGE_API_URL", "https://api.openai.com/v1/images/generations"),
		ImageAPIKey:          getEnv("IMAGE_API_KEY", ""),
		GeneratedImageMarker: getEnv("GENERATED_IMAGE_MARKER", "goal-images/"),
	}
}

// AllowedGoogleClients splits GoogleClientIDs into trimmed, non-empty ids.
func (c *Config) AllowedGoogleClients() []string {
	var ids []string
	for _, id := range strings.Split(c.GoogleClientIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
