package services

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/models"
)

// Notification types, re-exported for callers that only import services.
const (
	NotifyContentFailed = models.NotifyContentFailed
	NotifyTasksReady    = models.NotifyTasksReady
	NotifyImageReady    = models.NotifyImageReady
)

// Notify stores a notification for the user and pushes it to their device.
// Failures are logged; notifications never fail the caller.
func Notify(db *gorm.DB, userID uuid.UUID, notifType, title, body string, metadata map[string]interface{}) {
	notif := models.Notification{
		UserID: userID,
		Type:   notifType,
		Title:  title,
		Body:   body,
	}
	if err := notif.SetMetadata(metadata); err != nil {
		log.Printf("notify: encode metadata for %s: %v", notifType, err)
	}

	if err := db.Create(&notif).Error; err != nil {
		log.Printf("notify: store %s for user %s: %v", notifType, userID, err)
	}

	if Push != nil {
		go Push.SendToUser(userID, title, body, pushData(notifType, metadata))
	}
}

// pushData flattens metadata into the string map FCM expects.
func pushData(notifType string, metadata map[string]interface{}) map[string]string {
	data := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		data[k] = fmt.Sprintf("%v", v)
	}
	data["type"] = notifType
	return data
}
