package database

import (
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the shared gorm handle after SetupDatabase.
var DB *gorm.DB

// SetupDatabase connects to MySQL, retrying while the server comes up, and
// auto-migrates the entitlement tables in development.
func SetupDatabase(dsn string) (*gorm.DB, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(dsn)
		if err == nil {
			if env.IsDev() {
				if err := AutoMigrate(DB); err != nil {
					return nil, err
				}
			}
			return DB, nil
		}

		log.Warnf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// Open creates a gorm handle. Duplicate key violations are translated to
// gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if env.IsDev() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	return gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
}

// AutoMigrate creates or updates the tables owned by this service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Subscription{},
		&models.BillingWebhookEvent{},
		&models.AdminGrant{},
	)
}
