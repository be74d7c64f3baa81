package db

import (
	"fmt"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model this service reads or writes.
func AllModels() []interface{} {
	return []interface{}{
		&models.Organization{},
		&models.Event{},
		&models.Ambassador{},
		&models.PlatformCredential{},
		&models.TrackedHashtag{},
		&models.Mention{},
		&models.InsightsSnapshot{},
		&models.Notification{},
		&models.WebhookDelivery{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
