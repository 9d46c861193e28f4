package database

import (
	"strings"

	"github.com/arnold/goalcoach-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open picks the dialector from the URL: postgres URLs use the postgres
// driver, anything else is treated as a SQLite path.
func Open(url string, level logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(url, "postgres") {
		dialector = postgres.Open(url)
	} else {
		dialector = sqlite.Open(url)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
}

func Connect(url string) error {
	db, err := Open(url, logger.Info)
	if err != nil {
		return err
	}

	DB = db
	return nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserRole{},
		&models.Goal{},
		&models.Task{},
		&models.Quiz{},
		&models.ChatThread{},
		&models.ChatMessage{},
		&models.Subscription{},
		&models.UsageRecord{},
		&models.Notification{},
	)
}

// OpenMemory returns a migrated in-memory SQLite database for tests.
func OpenMemory() (*gorm.DB, error) {
	db, err := Open("file::memory:", logger.Silent)
	if err != nil {
		return nil, err
	}
	// A single connection keeps every query on the same in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
