package services

import (
	"context"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/models"
)

// PushService handles sending push notifications via Firebase Cloud Messaging
type PushService struct {
	client *messaging.Client
	db     *gorm.DB
}

// Global push service instance
var Push *PushService

// InitFirebase builds the Firebase app from a service account file.
// Returns nil without error when no service account is configured (dev mode).
func InitFirebase(ctx context.Context, serviceAccountPath, storageBucket string) (*firebase.App, error) {
	if serviceAccountPath == "" {
		log.Println("Firebase: no service account configured, push and image storage disabled")
		return nil, nil
	}
	var conf *firebase.Config
	if storageBucket != "" {
		conf = &firebase.Config{StorageBucket: storageBucket}
	}
	return firebase.NewApp(ctx, conf, option.WithCredentialsFile(serviceAccountPath))
}

// InitPush sets up Push. A nil app, or a messaging client failure, leaves
// push disabled rather than failing startup.
func InitPush(ctx context.Context, app *firebase.App, db *gorm.DB) {
	Push = &PushService{db: db}
	if app == nil {
		return
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("FCM: Failed to get messaging client: %v", err)
		return
	}

	Push.client = client
	log.Println("FCM: Push notifications enabled")
}

// SendToUser sends a push notification to a user by their ID.
// No-op if push is not configured or user has no FCM token.
func (p *PushService) SendToUser(userID uuid.UUID, title, body string, data map[string]string) {
	if p == nil || p.client == nil {
		return
	}

	var user models.User
	if err := p.db.Select("fcm_token").First(&user, "id = ?", userID).Error; err != nil {
		return
	}

	if user.FCMToken == "" {
		return
	}

	msg := &messaging.Message{
		Token: user.FCMToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	if _, err := p.client.Send(context.Background(), msg); err != nil {
		log.Printf("FCM: Failed to send to user %s: %v", userID, err)
	}
}
