package database

import (
	"fmt"
	"log"

	"zapmaster-backend/internal/config"
	"zapmaster-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var GormDB *gorm.DB

// InitDB opens the database (sqlite file by default, PostgreSQL when DB_HOST
// is configured) and runs auto-migration.
func InitDB(cfg *config.Config) {
	var (
		dialector gorm.Dialector
		err       error
	)

	if cfg.DBHost != "" {
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(cfg.DBPath)
	}

	GormDB, err = gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	err = GormDB.AutoMigrate(
		&models.Contact{},
		&models.Account{},
		&models.Message{},
		&models.Chat{},
		&models.Campaign{},
		&models.DailyStat{},
		&models.DispatchSettings{},
	)
	if err != nil {
		log.Fatalf("Failed to run auto-migration: %v", err)
	}

	log.Println("Database initialized (contacts, accounts, messages, chats, campaigns, daily_stats, dispatch_settings)")
}
