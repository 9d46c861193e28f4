package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/arnold/goalcoach-api/internal/config"
	"github.com/arnold/goalcoach-api/internal/database"
	"github.com/arnold/goalcoach-api/internal/handlers"
	"github.com/arnold/goalcoach-api/internal/imagepoll"
	"github.com/arnold/goalcoach-api/internal/images"
	"github.com/arnold/goalcoach-api/internal/middleware"
	"github.com/arnold/goalcoach-api/internal/realtime"
	"github.com/arnold/goalcoach-api/internal/routes"
	"github.com/arnold/goalcoach-api/internal/services"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := database.Connect(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(database.DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	middleware.SetSecret(cfg.JWTSecret)
	images.SetGeneratedMarker(cfg.GeneratedImageMarker)

	app, err := services.InitFirebase(ctx, cfg.FCMServiceAccount, cfg.StorageBucket)
	if err != nil {
		log.Printf("Firebase: init failed, push and image storage disabled: %v", err)
	}
	services.InitPush(ctx, app, database.DB)

	hub := realtime.NewHub()
	pipeline := &services.Pipeline{DB: database.DB, Hub: hub}
	responder := setupLLM(cfg, pipeline)
	pipeline.Images = setupImages(ctx, cfg, app)

	poller := imagepoll.NewManager(imagepoll.NewGormStore(database.DB), imagepoll.NewLoadedSet(), pollOptions(), func(r imagepoll.Result) {
		hub.Publish(realtime.UserTopic(r.UserID), realtime.Event{
			Type: realtime.EventGoalImageReady,
			ID:   r.GoalID.String(),
			Data: r,
		})
		if r.Status == imagepoll.Confirmed {
			services.Notify(database.DB, r.UserID, services.NotifyImageReady, "Your goal image is ready", "", map[string]interface{}{"goalId": r.GoalID.String()})
		}
	})
	poller.StartSweep()

	handlers.Init(handlers.Deps{
		Hub:             hub,
		Poller:          poller,
		Loaders:         images.NewRegistry(images.Dedup(images.HTTPProber{}), images.PrimaryTimeout),
		Pipeline:        pipeline,
		Responder:       responder,
		UploadsDir:      cfg.UploadsDir,
		GoogleClientIDs: cfg.AllowedGoogleClients(),
	})

	server := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    6 * 1024 * 1024,
	})
	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New())

	server.Static("/uploads", cfg.UploadsDir)
	server.Static("/static", "./static")
	routes.Setup(server)

	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
		<-exit
		log.Println("Shutting down server...")
		if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on :%s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Printf("Server stopped: %v", err)
	}

	poller.Close()
	pipeline.Wait()
	log.Println("Server stopped")
}

func pollOptions() imagepoll.Options {
	opts := imagepoll.DefaultOptions()
	opts.Prober = images.Dedup(images.HTTPProber{})
	return opts
}

// setupLLM wires the content, summary and chat generators. Without
// credentials the app still runs: goals keep their fallback image and chat
// answers with the apology.
func setupLLM(cfg *config.Config, pipeline *services.Pipeline) services.ChatResponder {
	var responder services.ChatResponder

	if cfg.LLMToken != "" {
		llm, err := services.NewOpenAILLM(cfg.LLMToken, cfg.LLMModel, cfg.LLMBaseURL)
		if err != nil {
			log.Printf("LLM: failed to create client: %v", err)
		} else {
			gen := services.NewLLMGenerator(llm)
			pipeline.Content = gen
			pipeline.Summaries = gen
			responder = gen
		}
	} else {
		log.Println("LLM: no LLM_TOKEN set, task generation disabled")
	}

	if cfg.LLMProvider == "hunyuan" {
		hy, err := services.NewHunyuanResponder(cfg.TencentSecretID, cfg.TencentSecretKey, "")
		if err != nil {
			log.Printf("LLM: hunyuan disabled: %v", err)
		} else {
			responder = hy
		}
	}
	return responder
}

func setupImages(ctx context.Context, cfg *config.Config, app *firebase.App) services.ImageGenerator {
	if cfg.ImageAPIKey == "" {
		log.Println("Images: no IMAGE_API_KEY set, goals keep their fallback image")
		return nil
	}

	gen := &services.OpenAIImageGenerator{
		Endpoint:   cfg.ImageAPIURL,
		APIKey:     cfg.ImageAPIKey,
		DB:         database.DB,
		BucketName: cfg.StorageBucket,
	}
	if cfg.StorageBucket != "" {
		bucket, err := services.NewImageBucket(ctx, app)
		if err != nil {
			log.Printf("Images: storage disabled, using provider URLs: %v", err)
		} else {
			gen.Bucket = bucket
		}
	}
	return gen
}
